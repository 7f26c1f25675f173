package assets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
	"github.com/JakeFAU/catalog-harvester/internal/httpclient"
	"github.com/JakeFAU/catalog-harvester/internal/retry"
	"github.com/JakeFAU/catalog-harvester/internal/storage/memory"
)

type catalogServer struct {
	mu       sync.Mutex
	requests []string
}

func (c *catalogServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.requests = append(c.requests, r.URL.RequestURI())
	c.mu.Unlock()

	switch r.URL.Path {
	case "/api/images/451":
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	case "/catalog/M2333T/infopacket", "/docs/curve-a.pdf", "/api/products/M2333T/drawings/CD0001":
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF"))
	case "/api/products/download/":
		_, _ = w.Write([]byte("cad:" + r.URL.Query().Get("value") + "|" + r.URL.Query().Get("url")))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestRetriever(t *testing.T) (*Retriever, *memory.BlobStore, *catalogServer) {
	t.Helper()
	api := &catalogServer{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	client := httpclient.New(httpclient.Config{Timeout: time.Second}, retry.New(0, time.Millisecond, time.Millisecond), zap.NewNop())
	store := memory.NewBlobStore()
	return New(srv.URL+"/", client, store, zap.NewNop()), store, api
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "M2333T", Sanitize("M2333T"))
	assert.Equal(t, "A_B_C_D_", Sanitize(`A/B\C:D*`))
	assert.Equal(t, "x_y", Sanitize("x\ny"))
	assert.Equal(t, "3D Model", Sanitize("3D Model"))
	assert.Equal(t, "_", Sanitize(".."))
	assert.Equal(t, "_", Sanitize("."))
	assert.Equal(t, "v1.2", Sanitize("v1.2"))
}

func TestRetrieveKeepsDotIDsInsideAssetDir(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestRetriever(t)
	manifest := r.Retrieve(context.Background(), harvest.RawDetailRecord{ProductID: "..", ImgSrc: "/api/images/451"})
	assert.Equal(t, "assets/_/img.jpg", manifest.Image)
	_, ok := store.Get("assets/_/img.jpg")
	assert.True(t, ok)
}

func TestURLBuilders(t *testing.T) {
	t.Parallel()

	r := New("https://www.baldor.com/", nil, nil, nil)
	assert.Equal(t, "https://www.baldor.com/api/images/451?bc=white&as=1&w=1920&h=0", r.ImageURL("/api/images/451"))
	assert.Equal(t, "https://www.baldor.com/api/products/M2333T/drawings/CD0001", r.RenderURL("M2333T", "CD0001"))
	assert.Equal(t,
		"https://www.baldor.com/api/products/download/?value=M2333T.stp&url=https%3A%2F%2Fcad.example.com%2Fget%3Fid%3D1%26fmt%3Dstep%20x",
		r.CADURL("M2333T.stp", "https://cad.example.com/get?id=1&fmt=step x"))
	assert.Equal(t, "https://cdn.example.com/a.pdf", r.resolve("https://cdn.example.com/a.pdf"))
	assert.Equal(t, "https://www.baldor.com/docs/a.pdf", r.resolve("docs/a.pdf"))
}

func TestCADFileName(t *testing.T) {
	t.Parallel()

	used := map[string]int{}
	assert.Equal(t, "3D Model.stp", cadFileName(harvest.CADDescriptor{Name: "3D Model", Value: "M.stp"}, 0, used))
	assert.Equal(t, "3D Model_1.stp", cadFileName(harvest.CADDescriptor{Name: "3D Model", Value: "N.stp"}, 1, used))
	assert.Equal(t, "cad_2.dwg", cadFileName(harvest.CADDescriptor{Value: "x.y.dwg"}, 2, used))
	assert.Equal(t, "DXF_2D.bin", cadFileName(harvest.CADDescriptor{Name: "DXF/2D", Value: "noext"}, 3, used))
}

type download struct {
	url   string
	large bool
}

type recordingDownloader struct {
	mu    sync.Mutex
	calls []download
}

func (d *recordingDownloader) Download(_ context.Context, rawURL string, large bool) (httpclient.Payload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, download{url: rawURL, large: large})
	return httpclient.Payload{Body: []byte("x")}, nil
}

func TestRetrieveUsesLargeTimeoutForDocuments(t *testing.T) {
	t.Parallel()

	dl := &recordingDownloader{}
	r := New("https://catalog.test", dl, memory.NewBlobStore(), zap.NewNop())
	manifest := r.Retrieve(context.Background(), harvest.RawDetailRecord{
		ProductID:   "M2333T",
		ImgSrc:      "/api/images/451",
		PdfSrc:      "/catalog/M2333T/infopacket",
		Performance: &harvest.Performance{AssociatedURLs: []string{"/docs/curve-a.pdf"}},
		Drawings: &harvest.Drawings{
			Images: []harvest.ImageDescriptor{{Number: "CD0001"}},
			CADs:   []harvest.CADDescriptor{{Name: "3D Model", Value: "M2333T.stp", URL: "https://cad.example.com/get?id=1"}},
		},
	})
	require.Len(t, manifest.CADs, 1)

	assert.Equal(t, []download{
		{url: "https://catalog.test/api/images/451?bc=white&as=1&w=1920&h=0", large: false},
		{url: "https://catalog.test/catalog/M2333T/infopacket", large: true},
		{url: "https://catalog.test/docs/curve-a.pdf", large: true},
		{url: "https://catalog.test/api/products/M2333T/drawings/CD0001", large: true},
		{url: "https://catalog.test/api/products/download/?value=M2333T.stp&url=https%3A%2F%2Fcad.example.com%2Fget%3Fid%3D1", large: false},
	}, dl.calls)
}

func TestRetrieveBuildsManifest(t *testing.T) {
	t.Parallel()

	r, store, api := newTestRetriever(t)
	rec := harvest.RawDetailRecord{
		ProductID: "M2333T",
		ImgSrc:    "/api/images/451",
		PdfSrc:    "/catalog/M2333T/infopacket",
		Performance: &harvest.Performance{
			AssociatedURLs:    []string{"/docs/curve-a.pdf"},
			PerformanceCurves: []string{"/docs/missing.pdf"},
		},
		Drawings: &harvest.Drawings{
			Images: []harvest.ImageDescriptor{{Number: "CD0001"}},
			CADs: []harvest.CADDescriptor{
				{Name: "3D Model", Value: "M2333T.stp", URL: "https://cad.example.com/get?id=1"},
				{Name: "2D/DXF", Value: "M2333T.dxf", URL: "https://cad.example.com/get?id=2"},
			},
		},
	}

	manifest := r.Retrieve(context.Background(), rec)
	assert.Equal(t, "assets/M2333T/img.jpg", manifest.Image)
	assert.Equal(t, "assets/M2333T/manual.pdf", manifest.Manual)
	assert.Equal(t, harvest.PathList{"assets/M2333T/performance_curve_0.pdf"}, manifest.Performance)
	assert.Equal(t, harvest.PathList{"assets/M2333T/render_0.pdf"}, manifest.Renders)
	assert.Equal(t, harvest.PathList{"assets/M2333T/3D Model.stp", "assets/M2333T/2D_DXF.dxf"}, manifest.CADs)

	raw, err := json.Marshal(manifest)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"image": "assets/M2333T/img.jpg",
		"manual": "assets/M2333T/manual.pdf",
		"performance": "assets/M2333T/performance_curve_0.pdf",
		"renders": "assets/M2333T/render_0.pdf",
		"cads": ["assets/M2333T/3D Model.stp", "assets/M2333T/2D_DXF.dxf"]
	}`, string(raw))

	img, ok := store.Get("assets/M2333T/img.jpg")
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", img.ContentType)
	cad, ok := store.Get("assets/M2333T/3D Model.stp")
	require.True(t, ok)
	assert.Equal(t, "cad:M2333T.stp|https://cad.example.com/get?id=1", string(cad.Data))

	assert.Contains(t, api.requests, "/api/images/451?bc=white&as=1&w=1920&h=0")
	assert.Contains(t, api.requests, "/docs/missing.pdf")
	_, missing := store.Get("assets/M2333T/performance_curve_1.pdf")
	assert.False(t, missing)
}

func TestRetrieveWithoutProductIDSkips(t *testing.T) {
	t.Parallel()

	r, store, api := newTestRetriever(t)
	manifest := r.Retrieve(context.Background(), harvest.RawDetailRecord{ImgSrc: "/api/images/451"})
	assert.True(t, manifest.IsEmpty())
	assert.Empty(t, store.Paths())
	assert.Empty(t, api.requests)
}

func TestRetrieveSanitizesProductDirectory(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestRetriever(t)
	manifest := r.Retrieve(context.Background(), harvest.RawDetailRecord{ProductID: "CD/18:03", ImgSrc: "/api/images/451"})
	assert.Equal(t, "assets/CD_18_03/img.jpg", manifest.Image)
	assert.Equal(t, []string{"assets/CD_18_03/img.jpg"}, store.Paths())
}
