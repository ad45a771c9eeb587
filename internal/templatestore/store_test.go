package templatestore

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/apex-triage/internal/config"
)

type fakeBlobClient struct {
	blobs map[string][]byte
}

func (f *fakeBlobClient) DownloadBuffer(_ context.Context, _, blobName string, buf []byte, _ *azblob.DownloadBufferOptions) (int64, error) {
	data, ok := f.blobs[blobName]
	if !ok {
		return 0, errors.New("blob not found")
	}
	n := copy(buf, data)
	return int64(n), nil
}

func (f *fakeBlobClient) GetProperties(_ context.Context, _, blobName string) (bool, error) {
	_, ok := f.blobs[blobName]
	return ok, nil
}

func TestValidateConfig(t *testing.T) {
	assert.Error(t, ValidateConfig(config.BlobConfig{}))
	assert.NoError(t, ValidateConfig(config.BlobConfig{
		ConnectionString: "x", ContainerName: "y", PublicURL: "z",
	}))
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "Auto Response", SubjectFor("claims"))
	assert.Equal(t, "Thank you for contacting us", SubjectFor("onlinesupport"))
	assert.Equal(t, "Thank you for contacting us", SubjectFor("unknown-folder"))
}

func TestResolveFolderFallsThroughFullAddressLocalPartVerbatim(t *testing.T) {
	mail := config.MailConfig{EnvType: "PROD"}
	assert.Equal(t, "claims", resolveFolder(mail, "claims"))
	assert.Equal(t, "some-unmapped-box", resolveFolder(mail, "some-unmapped-box@insurer.com"))
}

func TestResolveUsesFirstAvailablePath(t *testing.T) {
	mail := config.MailConfig{EnvType: "PROD"}
	client := &fakeBlobClient{blobs: map[string][]byte{
		"claims/claims.html": []byte(`<html><body>Hi {{REFERENCE_ID}}, we got your claim.</body></html>`),
	}}
	store := New(config.BlobConfig{PublicURL: "https://cdn.example.com", ContainerName: "templates"}, client)

	resolved, err := store.Resolve(context.Background(), mail, "claims@insurer.com", "longprefix1234567890")
	require.NoError(t, err)
	assert.Equal(t, "claims", resolved.Folder)
	assert.Equal(t, "Auto Response", resolved.Subject)
	assert.Contains(t, resolved.HTML, "Hi 1234567890")
	assert.NotContains(t, resolved.HTML, "{{REFERENCE_ID}}")
}

func TestResolveReturnsErrorWhenNoPathMatches(t *testing.T) {
	mail := config.MailConfig{EnvType: "PROD"}
	client := &fakeBlobClient{blobs: map[string][]byte{}}
	store := New(config.BlobConfig{PublicURL: "https://cdn.example.com", ContainerName: "templates"}, client)

	_, err := store.Resolve(context.Background(), mail, "claims@insurer.com", "<x@insurer.com>")
	assert.Error(t, err)
}

func TestDecodeWithFallbackValidUTF8(t *testing.T) {
	assert.Equal(t, "hello", decodeWithFallback([]byte("hello")))
}

func TestDecodeWithFallbackWindows1252(t *testing.T) {
	// 0x93/0x94 are Windows-1252 curly quotes, invalid as standalone UTF-8.
	raw := []byte{0x93, 'h', 'i', 0x94}
	decoded := decodeWithFallback(raw)
	assert.Contains(t, decoded, "hi")
}

func TestRewriteImageReferencesRewritesRelativeImgSrc(t *testing.T) {
	html := `<html><body><img src="logo.png"></body></html>`
	out, err := rewriteImageReferences(html, "https://cdn.example.com", "templates", "claims")
	require.NoError(t, err)
	assert.Contains(t, out, `src="https://cdn.example.com/templates/claims/logo.png"`)
}

func TestRewriteImageReferencesExtractsFilenameAfterFilesDir(t *testing.T) {
	html := `<html><body><img src="onlinesupport@brand.co.za_files/image001.png"></body></html>`
	out, err := rewriteImageReferences(html, "https://cdn.example.com", "templates", "onlinesupport")
	require.NoError(t, err)
	assert.Contains(t, out, `src="https://cdn.example.com/templates/onlinesupport/image001.png"`)
}

func TestRewriteImageReferencesLeavesAbsoluteURLsAlone(t *testing.T) {
	html := `<html><body><img src="https://other.example.com/logo.png"></body></html>`
	out, err := rewriteImageReferences(html, "https://cdn.example.com", "templates", "claims")
	require.NoError(t, err)
	assert.Contains(t, out, `src="https://other.example.com/logo.png"`)
}

func TestRewriteCSSURL(t *testing.T) {
	style := `background-image:url('bg.png');`
	out := rewriteCSSURL(style, "https://cdn.example.com/templates/claims")
	assert.Equal(t, `background-image:url(https://cdn.example.com/templates/claims/bg.png);`, out)
}

func TestImageFilenameExtractsAfterFilesDir(t *testing.T) {
	assert.Equal(t, "image001.png", imageFilename("onlinesupport@brand.co.za_files/image001.png"))
}

func TestImageFilenameExtractsAfterFinalSlash(t *testing.T) {
	assert.Equal(t, "logo.jpg", imageFilename("images/logo.jpg"))
}

func TestImageFilenameReturnsVerbatimWhenNoPath(t *testing.T) {
	assert.Equal(t, "logo.jpg", imageFilename("logo.jpg"))
}

func TestReferenceIDTruncatesToLast10Characters(t *testing.T) {
	assert.Equal(t, "1234567890", referenceID("longprefix1234567890"))
}

func TestReferenceIDFallsBackToUUIDWhenEmpty(t *testing.T) {
	id := referenceID("")
	assert.Len(t, id, 10)
}
