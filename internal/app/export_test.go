package app

// AddCloser registers fn to run during Shutdown.
func (a *App) AddCloser(fn func() error) { a.closers = append(a.closers, fn) }
