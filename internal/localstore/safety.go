package localstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zentrochat/zentro/pkg/apperr"
)

type BlockRecord struct {
	UserID    string    `json:"user_id"`
	BlockedID string    `json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Report struct {
	ID         string    `json:"id"`
	ReporterID string    `json:"reporter_id"`
	TargetID   string    `json:"target_id"`
	MessageID  string    `json:"message_id,omitempty"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// SafetyList records who a user has blocked and what they reported.
type SafetyList struct {
	store *Store
	now   func() time.Time
}

func NewSafetyList(store *Store) *SafetyList {
	return &SafetyList{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (l *SafetyList) Block(userID, targetID string) error {
	if userID == "" || targetID == "" {
		return fmt.Errorf("%w: user id is required", apperr.ErrValidation)
	}
	if userID == targetID {
		return fmt.Errorf("%w: you cannot block yourself", apperr.ErrValidation)
	}
	rec := BlockRecord{UserID: userID, BlockedID: targetID, CreatedAt: l.now()}
	return l.store.Set(Blocks, UserKey(userID, targetID), rec)
}

func (l *SafetyList) Unblock(userID, targetID string) error {
	return l.store.Remove(Blocks, UserKey(userID, targetID))
}

// IsBlocked reports whether userID has blocked targetID.
func (l *SafetyList) IsBlocked(userID, targetID string) (bool, error) {
	var rec BlockRecord
	err := l.store.Get(Blocks, UserKey(userID, targetID), &rec)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *SafetyList) Blocked(userID string) ([]BlockRecord, error) {
	keys, err := l.store.Keys(Blocks, userID+"/")
	if err != nil {
		return nil, err
	}
	records := make([]BlockRecord, 0, len(keys))
	for _, k := range keys {
		var rec BlockRecord
		if err := l.store.Get(Blocks, k, &rec); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *SafetyList) Report(reporterID, targetID, messageID, reason string) (*Report, error) {
	reason = strings.TrimSpace(reason)
	if targetID == "" {
		return nil, fmt.Errorf("%w: target user is required", apperr.ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: a reason is required", apperr.ErrValidation)
	}
	r := &Report{
		ID:         uuid.NewString(),
		ReporterID: reporterID,
		TargetID:   targetID,
		MessageID:  messageID,
		Reason:     reason,
		CreatedAt:  l.now(),
	}
	if err := l.store.Set(Reports, UserKey(reporterID, r.ID), r); err != nil {
		return nil, err
	}
	return r, nil
}
