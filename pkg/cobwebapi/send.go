package cobwebapi

// Runner executes fn, usually on its own goroutine.
type Runner func(fn func())

// Go runs fn on a new goroutine.
func Go(fn func()) { go fn() }

// Inline runs fn before returning.
func Inline(fn func()) { fn() }

// Send issues call through run and reports its outcome to exactly one of
// onSuccess or onFailure. The caller does not wait for the result.
func Send[T any](run Runner, call func() (T, error), onSuccess func(T), onFailure func(status int, err error)) {
	run(func() {
		v, err := call()
		if err != nil {
			onFailure(StatusOf(err), err)
			return
		}
		onSuccess(v)
	})
}
