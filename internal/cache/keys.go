package cache

import (
	"fmt"
	"strconv"
	"strings"

	"tripplan/internal/domain"
)

func KeyRoute(req domain.RouteRequest) string {
	modes := make([]string, len(req.Modes))
	for i, m := range req.Modes {
		modes[i] = strconv.Itoa(int(m))
	}
	return fmt.Sprintf("route:%d:%d:%d:%s", req.From, req.To, req.DepTime, strings.Join(modes, ","))
}

// KeyNameSearch keys on the name exactly as it is sent to the backend.
func KeyNameSearch(name string, amount int) string {
	return fmt.Sprintf("names:%d:%s", amount, name)
}

func KeyNearest(lat, lon float64) string {
	return "nearest:" + strconv.FormatFloat(lat, 'f', -1, 64) + ":" + strconv.FormatFloat(lon, 'f', -1, 64)
}
