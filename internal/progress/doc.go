// Package progress provides progress reporting for a harvest run.
//
// The reporter prints periodic lines to stdout with entity, document and
// failure counts. Workers update the counters concurrently.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalEntities: len(entities),
//	    Workers:       4,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.EntityStarted()
//	reporter.DocumentFiled(size)
//	reporter.EntityFinished()
//
// # Output Format
//
//	[docharvest] Entities: 120 | Workers: 4 | Destination: /srv/reports
//	[docharvest] Progress: 45.0% | Entities: 54 done, 4 in-progress, 62 pending | Documents: 210 (48 MiB) | Failures: 3
//	[docharvest] Done: 120 entities | 466 documents (107 MiB) | 5 failures | Total time: 14m 2s
package progress
