package clients

import (
	"slices"
	"time"

	"github.com/ksred/klear-fx/internal/types"
)

// Component is the journal name of client workflow state
const Component = "client"

type Status string

const (
	StatusIdle          Status = "IDLE"
	StatusSubscribing   Status = "SUBSCRIBING"
	StatusUnsubscribing Status = "UNSUBSCRIBING"
)

// State is the subscription state of one client.
// Step is the workflow step still to run, empty when Idle.
type State struct {
	ClientID      string             `json:"clientId"`
	Subscriptions []string           `json:"subscriptions"`
	CreditStatus  types.CreditStatus `json:"creditStatus"`
	Status        Status             `json:"status"`
	PendingPair   string             `json:"pendingPair,omitempty"`
	Step          string             `json:"step,omitempty"`
}

func initialState(clientID string) State {
	return State{
		ClientID:      clientID,
		Subscriptions: []string{},
		CreditStatus:  types.CreditUnknown,
		Status:        StatusIdle,
	}
}

func (s *State) IsSubscribed(ccyPair string) bool {
	_, found := slices.BinarySearch(s.Subscriptions, ccyPair)
	return found
}

func (s *State) addSubscription(ccyPair string) {
	if i, found := slices.BinarySearch(s.Subscriptions, ccyPair); !found {
		s.Subscriptions = slices.Insert(s.Subscriptions, i, ccyPair)
	}
}

func (s *State) removeSubscription(ccyPair string) {
	if i, found := slices.BinarySearch(s.Subscriptions, ccyPair); found {
		s.Subscriptions = slices.Delete(s.Subscriptions, i, i+1)
	}
}

func (s *State) toIdle() {
	s.Status = StatusIdle
	s.PendingPair = ""
	s.Step = ""
}

// Response is the public shape of the state
func (s State) Response() types.ClientStateResponse {
	subs := s.Subscriptions
	if subs == nil {
		subs = []string{}
	}
	return types.ClientStateResponse{
		ClientID:      s.ClientID,
		Subscriptions: subs,
		CreditStatus:  s.CreditStatus,
		Status:        string(s.Status),
		PendingPair:   s.PendingPair,
	}
}

// ClientEntry is a row of the client view: the credit status last seen for a client
type ClientEntry struct {
	ClientID     string `gorm:"primaryKey"`
	CreditStatus string `gorm:"not null"`
	UpdatedAt    time.Time
}
