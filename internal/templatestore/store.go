// Package templatestore resolves and renders the HTML autoresponse template
// for a given recipient mailbox, reading template bodies and referenced
// images from Azure Blob Storage.
package templatestore

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/ignite/apex-triage/internal/config"
)

// BlobClient is the subset of the azblob SDK this package needs, so tests
// can substitute a fake without standing up a storage account.
type BlobClient interface {
	DownloadBuffer(ctx context.Context, containerName, blobName string, buf []byte, o *azblob.DownloadBufferOptions) (int64, error)
	GetProperties(ctx context.Context, containerName, blobName string) (bool, error)
}

// Store resolves autoresponse templates from blob storage, following the
// three-path mailbox/folder lookup and the subject-line table.
type Store struct {
	cfg    config.BlobConfig
	client BlobClient
}

// New builds a Store from blob configuration using the real Azure SDK
// client. ValidateConfig should be called once at startup.
func New(cfg config.BlobConfig, client BlobClient) *Store {
	return &Store{cfg: cfg, client: client}
}

// ValidateConfig checks that all three blob environment values needed to
// reach the template container are present.
func ValidateConfig(cfg config.BlobConfig) error {
	if cfg.ConnectionString == "" || cfg.ContainerName == "" || cfg.PublicURL == "" {
		return fmt.Errorf("templatestore: blob storage not fully configured")
	}
	return nil
}

// subjectByFolder mirrors EMAIL_SUBJECT_MAPPING: the autoresponse subject
// line is keyed by template folder, not by category.
var subjectByFolder = map[string]string{
	"onlinesupport": "Thank you for contacting us",
	"policyservice": "Thank you for contacting us",
	"tracking":      "Auto Reply",
	"claims":        "Auto Response",
	"digitalcomms":  "Auto Reply",
	"default":       "Thank you for contacting us",
}

// SubjectFor returns the autoresponse subject line for a resolved folder.
func SubjectFor(folder string) string {
	if s, ok := subjectByFolder[folder]; ok {
		return s
	}
	return subjectByFolder["default"]
}

// Resolved is a rendered template ready to send.
type Resolved struct {
	Folder  string
	HTML    string
	Subject string
}

// Resolve finds and renders the template for a recipient mailbox: folder
// resolution by full address, then mailbox-local-part, then mailbox name
// verbatim; then a three-path blob lookup with an encoding fallback chain
// at each path. internetMessageID seeds the {{REFERENCE_ID}} placeholder —
// its last 10 characters, or a random UUID if it is empty.
func (s *Store) Resolve(ctx context.Context, mail config.MailConfig, recipient, internetMessageID string) (Resolved, error) {
	folder := resolveFolder(mail, recipient)

	paths := []string{
		fmt.Sprintf("%s/%s.htm", folder, recipient),
		fmt.Sprintf("%s/%s.html", folder, recipient),
		fmt.Sprintf("%s/%s.html", folder, folder),
	}

	var lastErr error
	for _, p := range paths {
		raw, err := s.download(ctx, p)
		if err != nil {
			lastErr = err
			continue
		}
		html := decodeWithFallback(raw)
		html = strings.ReplaceAll(html, "{{REFERENCE_ID}}", referenceID(internetMessageID))
		rewritten, err := rewriteImageReferences(html, s.cfg.PublicURL, s.cfg.ContainerName, folder)
		if err != nil {
			rewritten = html
		}
		return Resolved{Folder: folder, HTML: rewritten, Subject: SubjectFor(folder)}, nil
	}
	return Resolved{}, fmt.Errorf("templatestore: no template found for %s (folder %s): %w", recipient, folder, lastErr)
}

// referenceID mirrors process_template's reference-ID derivation: the last
// 10 characters of the internet_message_id, or a random UUID if absent.
func referenceID(internetMessageID string) string {
	id := internetMessageID
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > 10 {
		id = id[len(id)-10:]
	}
	return id
}

func (s *Store) download(ctx context.Context, blobName string) ([]byte, error) {
	buf := make([]byte, 1<<20)
	n, err := s.client.DownloadBuffer(ctx, s.cfg.ContainerName, blobName, buf, nil)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// resolveFolder maps a recipient mailbox to its template folder: exact
// full-address match first, then mailbox-local-part match, falling back to
// the mailbox name verbatim as the folder.
func resolveFolder(mail config.MailConfig, recipient string) string {
	mapping := mail.FolderMapping()
	if f, ok := mapping[recipient]; ok {
		return f
	}
	local, _, _ := strings.Cut(recipient, "@")
	if f, ok := mapping[local]; ok {
		return f
	}
	return local
}

// decodeWithFallback tries UTF-8, then Windows-1252, then UTF-8 with
// replacement characters, matching the original's three-tier decode chain.
func decodeWithFallback(raw []byte) string {
	if isValidUTF8(raw) {
		return string(raw)
	}
	if decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw); err == nil {
		return string(decoded)
	}
	decoded, _ := unicode.UTF8.NewDecoder().Bytes(raw)
	return string(decoded)
}

func isValidUTF8(raw []byte) bool {
	return utf8.Valid(raw)
}

// rewriteImageReferences rewrites <img src>, VML <v:imagedata src>, and
// inline style="url(...)" references so they point at the public blob URL
// instead of a relative path: {public_url}/{container}/{folder}/{filename}.
func rewriteImageReferences(html, publicURL, container, folder string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html, err
	}

	base := strings.TrimRight(publicURL, "/") + "/" + container + "/" + folder

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && !strings.HasPrefix(src, "http") {
			sel.SetAttr("src", base+"/"+imageFilename(src))
		}
	})
	doc.Find("v\\:imagedata").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && !strings.HasPrefix(src, "http") {
			sel.SetAttr("src", base+"/"+imageFilename(src))
		}
	})
	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		style, _ := sel.Attr("style")
		if !strings.Contains(style, "url(") {
			return
		}
		rewritten := rewriteCSSURL(style, base)
		sel.SetAttr("style", rewritten)
	})

	out, err := doc.Html()
	if err != nil {
		return html, err
	}
	return out, nil
}

// imageFilename extracts the bare filename from a relative image reference:
// the substring after "_files/" (Word HTML export), else after the final
// "/", else the value verbatim.
func imageFilename(src string) string {
	src = strings.TrimSpace(strings.ReplaceAll(src, `\`, "/"))
	const marker = "_files/"
	if idx := strings.LastIndex(src, marker); idx != -1 {
		return src[idx+len(marker):]
	}
	if idx := strings.LastIndex(src, "/"); idx != -1 {
		return src[idx+1:]
	}
	return src
}

func rewriteCSSURL(style, base string) string {
	const marker = "url("
	idx := strings.Index(style, marker)
	if idx == -1 {
		return style
	}
	start := idx + len(marker)
	end := strings.Index(style[start:], ")")
	if end == -1 {
		return style
	}
	ref := strings.Trim(style[start:start+end], `'" `)
	if strings.HasPrefix(ref, "http") {
		return style
	}
	return style[:start] + base + "/" + imageFilename(ref) + style[start+end:]
}

