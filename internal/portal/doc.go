// Package portal drives one authenticated session against the document portal.
//
// A Session moves through
//
//	Unauthenticated -> Authenticated -> Faulted
//
// and ends Closed. Every operation has its own deadline; a deadline expiry is
// reported as a phase-specific error (ErrLoginTimeout, ErrSearchTimeout,
// ErrFetchTimeout, ErrResetTimeout) and leaves the session usable. A driver
// fault moves the session to Faulted and is reported as ErrSessionFaulted.
//
// # Usage
//
//	cfg := portal.DefaultConfig()
//	cfg.LoginURL = "https://portal.example.com/login"
//	cfg.SearchURL = "https://portal.example.com/search/{entity}"
//	cfg.BrowseURL = "https://portal.example.com/browse"
//
//	s, err := portal.NewBrowser(cfg, "/tmp/dl/worker-0", logger)
//	defer s.Close()
//
//	err = s.Login(ctx)
//	locs, err := s.SearchAndCollect(ctx, "AAPL")
//	for _, loc := range locs {
//	    err = s.Fetch(ctx, loc) // the file lands in the download dir
//	}
//	err = s.Reset(ctx)
//
// Fetch only dispatches the download; use package watcher to observe it.
package portal
