// Package archive mirrors filed documents to object storage.
//
// Any gocloud bucket URL works:
//
//	s3://bucket?region=us-east-1
//	gs://bucket
//	file:///var/mirror
//	mem://
//
// # Usage
//
//	m, err := archive.Open(ctx, "s3://reports-mirror?region=eu-west-1", archive.Options{
//	    Prefix:      "valueline",
//	    Concurrency: 4,
//	})
//	defer m.Close()
//
//	res, err := m.Upload(ctx, report.Documents())
//	// res.Uploaded, res.Skipped
//
// Objects are keyed <prefix>/<entity>/<entity>-<label>.pdf. An object that
// already exists with the same size is not uploaded again.
package archive
