package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ksred/klear-fx/internal/runtime"
	"github.com/ksred/klear-fx/internal/types"
	"gorm.io/gorm"
)

// View is the eventually consistent client id to credit status projection
// used when quoting. It trails the client workflow state.
type View struct {
	db *Database
}

func NewView(db *gorm.DB) *View {
	return &View{db: NewDatabase(db)}
}

// CreditStatuses returns the known statuses of clientIDs; unknown clients are absent
func (v *View) CreditStatuses(ctx context.Context, clientIDs []string) (map[string]types.CreditStatus, error) {
	entries, err := v.db.GetClients(ctx, clientIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query client view: %w", err)
	}
	out := make(map[string]types.CreditStatus, len(entries))
	for _, e := range entries {
		out[e.ClientID] = types.CreditStatus(e.CreditStatus)
	}
	return out, nil
}

// Consumer follows client state changes into the view
func (v *View) Consumer(store *runtime.Store, interval time.Duration) *runtime.Consumer {
	return runtime.NewConsumer(store, "client-view", Component, interval, v.Handle)
}

func (v *View) Handle(ctx context.Context, entry runtime.JournalEntry) error {
	if entry.Kind != runtime.KindState {
		return nil
	}
	var st State
	if err := json.Unmarshal([]byte(entry.Payload), &st); err != nil {
		return fmt.Errorf("failed to decode client state %d: %w", entry.ID, err)
	}
	return v.db.UpsertClient(ctx, st.ClientID, st.CreditStatus)
}
