package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueuePrint carries print jobs so a slow printer never delays other work.
	QueuePrint = "print"

	// TaskPrintPalletList prints the content list of a pallet.
	TaskPrintPalletList = "print:pallet_list"
	// TaskPrintItemLabel prints the label of a single item.
	TaskPrintItemLabel = "print:item_label"
)

// ErrInvalidPayload marks a payload that can never be processed.
var ErrInvalidPayload = errors.New("jobs: invalid payload")

// PrintPalletListPayload identifies the pallet whose list is printed.
type PrintPalletListPayload struct {
	PalletID int64 `json:"pallet_id"`
}

// PrintItemLabelPayload identifies the item whose label is printed.
type PrintItemLabelPayload struct {
	ItemID int64 `json:"item_id"`
}

// NewPrintPalletListTask constructs an Asynq task.
func NewPrintPalletListTask(payload PrintPalletListPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if payload.PalletID <= 0 {
		return nil, fmt.Errorf("%w: pallet id %d", ErrInvalidPayload, payload.PalletID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPrintPalletList, data, opts...), nil
}

// NewPrintItemLabelTask constructs an Asynq task.
func NewPrintItemLabelTask(payload PrintItemLabelPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if payload.ItemID <= 0 {
		return nil, fmt.Errorf("%w: item id %d", ErrInvalidPayload, payload.ItemID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPrintItemLabel, data, opts...), nil
}
