package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/odyssey-erp/odyssey-pallets/jobs"
	"github.com/odyssey-erp/odyssey-pallets/web"
)

// PDFClient exposes the subset of the Gotenberg client used by the spooler.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string, page PageSize) ([]byte, error)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PDFSpooler renders documents to PDF and writes them into one hot folder per
// printer, where the print server picks them up.
type PDFSpooler struct {
	client PDFClient
	tpl    *template.Template
	dir    string
	logger *slog.Logger
}

// NewPDFSpooler parses the print templates. An empty dir spools below the
// system temp directory.
func NewPDFSpooler(client PDFClient, dir string, logger *slog.Logger) (*PDFSpooler, error) {
	if client == nil {
		return nil, fmt.Errorf("report spooler: pdf client required")
	}
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "pallet-spool")
	}
	if logger == nil {
		logger = slog.Default()
	}
	tpl, err := template.ParseFS(web.Templates, "templates/print/*.html")
	if err != nil {
		return nil, err
	}
	return &PDFSpooler{client: client, tpl: tpl, dir: dir, logger: logger}, nil
}

// Spool implements jobs.Spooler.
func (s *PDFSpooler) Spool(ctx context.Context, doc jobs.Document) error {
	name, page := "pallet_list.html", PageA4
	if doc.Kind == jobs.KindItemLabel {
		name, page = "item_label.html", PageLabel
	}
	buf := &bytes.Buffer{}
	if err := s.tpl.ExecuteTemplate(buf, name, doc); err != nil {
		return fmt.Errorf("report spooler: render %s: %w", name, err)
	}
	pdf, err := s.client.RenderHTML(ctx, buf.String(), page)
	if err != nil {
		return err
	}
	path, err := s.save(doc, pdf)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "document spooled",
		slog.String("printer", doc.Printer), slog.String("kind", doc.Kind),
		slog.String("reference", doc.Reference), slog.String("file", path))
	return nil
}

// save writes through a temp file so the print server never sees a partial PDF.
func (s *PDFSpooler) save(doc jobs.Document, pdf []byte) (string, error) {
	dir := filepath.Join(s.dir, safeName(doc.Printer, "default"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	base := safeName(doc.Kind, "document") + "-" + safeName(doc.Reference, "unknown")
	if doc.RequestID != "" {
		base += "-" + safeName(doc.RequestID, "")
	}
	path := filepath.Join(dir, base+".pdf")

	tmp, err := os.CreateTemp(dir, ".spool-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(pdf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

func safeName(raw, fallback string) string {
	name := strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(raw), "_"), "._")
	if name == "" {
		return fallback
	}
	return name
}
