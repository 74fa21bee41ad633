// Package pool runs a fixed number of workers over one shared queue and
// aggregates their results into a Report.
//
// # Usage
//
//	p, err := pool.New(pool.Options{
//	    Workers:      4,
//	    DownloadRoot: "/tmp/docharvest",
//	    Filer:        filer.Options{Destination: "/srv/reports"},
//	    Factory:      portal.BrowserFactory(cfg, logger),
//	})
//
//	report, err := p.Run(ctx, []string{"AAPL", "MSFT", "GOOG"})
//	// report is valid even when err != nil
//
// Each worker gets its own download directory, <DownloadRoot>/worker-<n>,
// and its own session. A worker that fails to log in or whose session faults
// does not affect the others; Run returns ErrNoWorkers only when none of them
// logged in.
package pool
