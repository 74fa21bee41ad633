//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// LandingTitle is the title the fake portal serves after login.
const LandingTitle = "Value Line - Research - Dashboard"

// FakePDF returns a small PDF document whose body carries tag, so that
// downloads of different documents can be told apart.
func FakePDF(tag string) []byte {
	return []byte(fmt.Sprintf("%%PDF-1.4\n%% %s\n1 0 obj<</Type/Catalog>>endobj\ntrailer<</Root 1 0 R>>\n%%%%EOF\n", tag))
}

// PortalDocument is one entry in a fake portal's results table.
type PortalDocument struct {
	Label string
	Body  []byte
}

// FakePortal is an HTTP server imitating the research portal: a login form,
// a landing page, a browse page, one results page per entity and the
// document downloads behind it.
type FakePortal struct {
	Server *httptest.Server

	LoginURL  string
	SearchURL string // contains "{entity}"
	BrowseURL string

	downloads atomic.Int64
}

// Downloads returns how many documents have been served.
func (p *FakePortal) Downloads() int {
	return int(p.downloads.Load())
}

// StartFakePortal serves docs keyed by entity. Entities not in docs get a
// page without a results table, so searching them runs into the deadline.
func StartFakePortal(t *testing.T, docs map[string][]PortalDocument) *FakePortal {
	t.Helper()
	p := &FakePortal{}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		fmt.Fprint(w, `<html><head><title>Login</title></head><body>
<form method="post" action="/login"><input name="user"><input name="pin" type="password"></form>
</body></html>`)
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>%s</title></head><body>ok</body></html>`, LandingTitle)
	})
	mux.HandleFunc("/browse", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Browse</title></head><body>browse</body></html>`)
	})
	mux.HandleFunc("/search/{entity}", func(w http.ResponseWriter, r *http.Request) {
		entity := r.PathValue("entity")
		list, ok := docs[entity]
		if !ok {
			fmt.Fprint(w, `<html><body>no results module</body></html>`)
			return
		}
		var rows strings.Builder
		for i, d := range list {
			fmt.Fprintf(&rows, "<tr><td><a href=\"/doc/%s/%d\">%s</a></td><td><a href=\"/other\">ignored</a></td></tr>\n",
				entity, i, d.Label)
		}
		fmt.Fprintf(w, `<html><body><div data-module-name="HistoricalPdfs1View">
<table class="report-results">
%s</table></div></body></html>`, rows.String())
	})
	mux.HandleFunc("/doc/{entity}/{n}", func(w http.ResponseWriter, r *http.Request) {
		list := docs[r.PathValue("entity")]
		var n int
		if _, err := fmt.Sscan(r.PathValue("n"), &n); err != nil || n < 0 || n >= len(list) {
			http.NotFound(w, r)
			return
		}
		p.downloads.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
		w.Write(list[n].Body)
	})

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)

	p.LoginURL = p.Server.URL + "/login"
	p.SearchURL = p.Server.URL + "/search/{entity}"
	p.BrowseURL = p.Server.URL + "/browse"
	return p
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens a gocloud bucket connection to the Minio environment.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// StartMinioContainer starts a Minio container with a pre-created bucket.
// Returns a MinioEnv with connection information.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	// Create a network for minio and mc to communicate
	networkName := fmt.Sprintf("minio-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name: networkName,
		},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	// Start minio container
	minioReq := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Networks:     []string{networkName},
		NetworkAliases: map[string][]string{
			networkName: {"minio"},
		},
		Env: map[string]string{
			"MINIO_ROOT_USER":     accessKey,
			"MINIO_ROOT_PASSWORD": secretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
	}

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: minioReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	// Create bucket using mc container
	createBucketWithMC(t, ctx, networkName, accessKey, secretKey, bucketName)

	host, err := minioContainer.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}

	port, err := minioContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	// Build gocloud S3 URL with query parameters for minio
	bucketURL := fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
		bucketName,
		endpoint,
	)

	// Set AWS credentials via environment variables (gocloud reads these)
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: minioContainer,
		BucketURL: bucketURL,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}

// createBucketWithMC creates a bucket using a separate minio/mc container.
func createBucketWithMC(t *testing.T, ctx context.Context, networkName, accessKey, secretKey, bucketName string) {
	t.Helper()

	// mc container runs, creates the bucket, then exits
	mcReq := testcontainers.ContainerRequest{
		Image:      "minio/mc:latest",
		Networks:   []string{networkName},
		Entrypoint: []string{"/bin/sh", "-c"},
		Cmd: []string{
			fmt.Sprintf(
				"/usr/bin/mc config host add myminio http://minio:9000 %s %s && "+
					"/usr/bin/mc mb myminio/%s && "+
					"/usr/bin/mc policy set download myminio/%s; "+
					"exit 0",
				accessKey, secretKey, bucketName, bucketName,
			),
		},
		WaitingFor: wait.ForExit(),
	}

	mcContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: mcReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mcContainer.Terminate(ctx)
}

// AssertObject reads key from bucket and compares it with want.
func AssertObject(t *testing.T, ctx context.Context, bucket *blob.Bucket, key string, want []byte) {
	t.Helper()

	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		t.Fatalf("open %s: %v", key, err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("object %s: got %d bytes, want %d", key, len(got), len(want))
	}
}
