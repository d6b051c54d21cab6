package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-pallets/internal/jobs"
	"github.com/odyssey-erp/odyssey-pallets/internal/pallet"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Document kinds.
const (
	KindPalletList = "pallet_list"
	KindItemLabel  = "item_label"
)

// PrintSource loads what gets printed.
type PrintSource interface {
	GetPallet(ctx context.Context, id int64) (*pallet.Pallet, error)
	GetItem(ctx context.Context, id int64) (*pallet.Item, error)
	IsSpecialClient(item *pallet.Item) bool
}

// Document is a rendered print job addressed to one printer.
type Document struct {
	Printer   string
	Kind      string
	Reference string
	RequestID string
	Lines     []string
}

// Spooler hands documents to a physical printer.
type Spooler interface {
	Spool(ctx context.Context, doc Document) error
}

// LogSpooler writes documents to the log instead of a printer.
type LogSpooler struct {
	Logger *slog.Logger
}

// Spool implements Spooler.
func (s LogSpooler) Spool(ctx context.Context, doc Document) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "document spooled",
		slog.String("printer", doc.Printer),
		slog.String("kind", doc.Kind),
		slog.String("reference", doc.Reference),
		slog.String("request_id", doc.RequestID),
		slog.String("body", strings.Join(doc.Lines, "\n")))
	return nil
}

// PrinterRoutes names the printers used per document kind. Labels of the
// special client go to their own printer.
type PrinterRoutes struct {
	PalletList   string
	ItemLabel    string
	SpecialLabel string
}

func (r PrinterRoutes) withDefaults() PrinterRoutes {
	if r.PalletList == "" {
		r.PalletList = "pallet-list"
	}
	if r.ItemLabel == "" {
		r.ItemLabel = "item-label"
	}
	if r.SpecialLabel == "" {
		r.SpecialLabel = r.ItemLabel
	}
	return r
}

// PrintJob renders and spools print tasks.
type PrintJob struct {
	Source  PrintSource
	Spooler Spooler
	Routes  PrinterRoutes
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPrintJob constructs the job handler.
func NewPrintJob(source PrintSource, spooler Spooler, routes PrinterRoutes, logger *slog.Logger, metrics *jobmetrics.Metrics) *PrintJob {
	if spooler == nil {
		spooler = LogSpooler{Logger: logger}
	}
	return &PrintJob{Source: source, Spooler: spooler, Routes: routes.withDefaults(), Logger: logger, Metrics: metrics}
}

// Handlers lists the worker registrations for print tasks.
func (j *PrintJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskPrintPalletList, Handler: j.HandlePalletList},
		{Type: TaskPrintItemLabel, Handler: j.HandleItemLabel},
	}
}

// HandlePalletList prints the content list of a pallet.
func (j *PrintJob) HandlePalletList(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Source == nil || j.Spooler == nil {
		return errors.New("print pallet list: dependencies not configured")
	}
	var payload PrintPalletListPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.PalletID <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskPrintPalletList)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	p, err := j.Source.GetPallet(ctx, payload.PalletID)
	if err != nil {
		return j.sourceError(err, slog.Int64("pallet_id", payload.PalletID))
	}
	doc := Document{
		Printer:   j.Routes.PalletList,
		Kind:      KindPalletList,
		Reference: p.Number.Value(),
		RequestID: requestID(ctx),
		Lines:     palletListLines(p),
	}
	return j.spool(ctx, doc)
}

// HandleItemLabel prints the label of a single item.
func (j *PrintJob) HandleItemLabel(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Source == nil || j.Spooler == nil {
		return errors.New("print item label: dependencies not configured")
	}
	var payload PrintItemLabelPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.ItemID <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskPrintItemLabel)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	item, err := j.Source.GetItem(ctx, payload.ItemID)
	if err != nil {
		return j.sourceError(err, slog.Int64("item_id", payload.ItemID))
	}
	printer := j.Routes.ItemLabel
	if j.Source.IsSpecialClient(item) {
		printer = j.Routes.SpecialLabel
	}
	doc := Document{
		Printer:   printer,
		Kind:      KindItemLabel,
		Reference: item.ItemNumber,
		RequestID: requestID(ctx),
		Lines:     itemLabelLines(item),
	}
	return j.spool(ctx, doc)
}

func (j *PrintJob) spool(ctx context.Context, doc Document) error {
	if err := j.Spooler.Spool(ctx, doc); err != nil {
		j.log().Error("spool document", slog.String("printer", doc.Printer), slog.String("reference", doc.Reference), slog.Any("error", err))
		return err
	}
	j.metrics().Printed(doc.Printer, doc.Kind)
	return nil
}

// sourceError stops retrying records that no longer exist.
func (j *PrintJob) sourceError(err error, attr slog.Attr) error {
	if errors.Is(err, pallet.ErrNotFound) {
		j.log().Warn("print target not found", attr)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	j.log().Error("load print target", attr, slog.Any("error", err))
	return err
}

func (j *PrintJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PrintJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", "print"))
	}
	return slog.Default().With(slog.String("job", "print"))
}

func requestID(ctx context.Context) string {
	id, _ := asynq.GetTaskID(ctx)
	return id
}

func palletListLines(p *pallet.Pallet) []string {
	status := "OPEN"
	if p.IsClosed {
		status = "CLOSED"
	}
	lines := []string{
		fmt.Sprintf("PALLET %s (%s)", p.Number.Value(), status),
		fmt.Sprintf("MO %s  DIVISION %s  PLATFORM %s", p.ManufacturingOrder, p.Division, p.Platform),
	}
	if p.TemporaryNumber != nil && !p.TemporaryNumber.Equal(p.Number) {
		lines = append(lines, "ORIGIN "+p.TemporaryNumber.Value())
	}
	for _, it := range p.Items() {
		lines = append(lines, fmt.Sprintf("%-12s %-10s %s %s", it.ItemNumber, it.ProductCode, it.Quantity.String(), p.UnitOfMeasure))
	}
	lines = append(lines, fmt.Sprintf("TOTAL %s %s  ITEMS %d", p.Quantity.String(), p.UnitOfMeasure, p.ItemCount()))
	return lines
}

func itemLabelLines(it *pallet.Item) []string {
	return []string{
		"ITEM " + it.ItemNumber,
		fmt.Sprintf("ORDER %s  CLIENT %s %s", it.OrderNumber, it.ClientCode, it.ClientName),
		fmt.Sprintf("PRODUCT %s %s", it.ProductCode, it.ProductDescription),
		fmt.Sprintf("QTY %s  WEIGHT %s  WIDTH %s", it.Quantity.String(), it.Weight.String(), it.Width.String()),
		fmt.Sprintf("QUALITY %s  BATCH %s", it.Quality, it.Batch),
	}
}
