package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/passfile"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
)

// PassBuilder renders a pass archive.
type PassBuilder interface {
	Build(p *model.Pass) ([]byte, error)
}

// WalletService backs the Apple Wallet device web service.
type WalletService struct {
	store   WalletStore
	blobs   *passfile.BlobStore
	builder PassBuilder
}

// NewWalletService wires the service.
func NewWalletService(store WalletStore, blobs *passfile.BlobStore, builder PassBuilder) *WalletService {
	return &WalletService{store: store, blobs: blobs, builder: builder}
}

// SerialsUpdate is the answer to a device's "what changed" poll.
type SerialsUpdate struct {
	SerialNumbers []string `json:"serialNumbers"`
	LastUpdated   string   `json:"lastUpdated"`
}

// AuthenticatePass resolves the pass a device is asking about and checks
// its ApplePass token. Unknown passes and bad tokens both yield
// ErrUnauthorized so the endpoint does not reveal which serials exist.
func (w *WalletService) AuthenticatePass(ctx context.Context, passTypeID, serial, token string) (*model.Pass, error) {
	p, err := w.store.FindPassByTypeAndSerial(ctx, passTypeID, serial)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, unauthorizedError("unauthorized")
	}
	if err != nil {
		return nil, err
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(p.AuthenticationToken)) != 1 {
		return nil, unauthorizedError("unauthorized")
	}
	return p, nil
}

// RegisterDevice links a device to an authenticated pass. created is false
// when the registration already existed; its push token is refreshed.
func (w *WalletService) RegisterDevice(ctx context.Context, deviceID, passTypeID, serial, token, pushToken string) (bool, error) {
	if strings.TrimSpace(pushToken) == "" {
		return false, validationError("pushToken is required")
	}
	if _, err := w.AuthenticatePass(ctx, passTypeID, serial, token); err != nil {
		return false, err
	}
	created, err := w.store.RegisterDevice(ctx, deviceID, passTypeID, serial, pushToken)
	if err != nil {
		return false, err
	}
	logs.Logger.WithFields(logrus.Fields{"device": deviceID, "serial": serial, "created": created}).Info("device registered")
	return created, nil
}

// UnregisterDevice removes a registration of an authenticated pass.
func (w *WalletService) UnregisterDevice(ctx context.Context, deviceID, passTypeID, serial, token string) error {
	if _, err := w.AuthenticatePass(ctx, passTypeID, serial, token); err != nil {
		return err
	}
	if err := w.store.UnregisterDevice(ctx, deviceID, passTypeID, serial); err != nil {
		return translate(err, "registration")
	}
	return nil
}

// UpdatedSerials lists serials registered to the device that changed
// after since. A nil result means nothing changed. LastUpdated carries
// the newest change at the microsecond precision updated_at is stored
// with.
func (w *WalletService) UpdatedSerials(ctx context.Context, deviceID, passTypeID string, since *time.Time) (*SerialsUpdate, error) {
	serials, latest, err := w.store.ListSerialsUpdatedSince(ctx, deviceID, passTypeID, since)
	if err != nil {
		return nil, err
	}
	if len(serials) == 0 {
		return nil, nil
	}
	return &SerialsUpdate{SerialNumbers: serials, LastUpdated: FormatUpdatedTag(latest)}, nil
}

// FormatUpdatedTag renders t as "<unix seconds>.<microseconds>".
func FormatUpdatedTag(t time.Time) string {
	t = t.UTC().Truncate(time.Microsecond)
	return strconv.FormatInt(t.Unix(), 10) + "." + fmt.Sprintf("%06d", t.Nanosecond()/int(time.Microsecond))
}

// ParseUpdatedTag reads a tag issued by FormatUpdatedTag. Plain unix
// seconds and RFC 3339 timestamps are accepted too.
func ParseUpdatedTag(raw string) (time.Time, bool) {
	secs, frac, hasFrac := strings.Cut(raw, ".")
	if n, err := strconv.ParseInt(secs, 10, 64); err == nil {
		if !hasFrac {
			return time.Unix(n, 0).UTC(), true
		}
		if frac == "" || len(frac) > 9 {
			return time.Time{}, false
		}
		nanos, err := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil || nanos < 0 {
			return time.Time{}, false
		}
		return time.Unix(n, nanos).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// PassFile returns the current archive of p. The file is rebuilt when the
// stored path was cleared by an update or the blob is gone.
func (w *WalletService) PassFile(ctx context.Context, p *model.Pass) ([]byte, error) {
	if p.PkpassPath != nil {
		data, err := w.blobs.Get(*p.PkpassPath)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, passfile.ErrMissing) {
			return nil, err
		}
	}
	data, err := w.builder.Build(p)
	if err != nil {
		return nil, err
	}
	path := passfile.PathFor(p.ID)
	if err := w.blobs.Put(path, data); err != nil {
		return nil, err
	}
	// A concurrent update moved updated_at on; the next request rebuilds.
	err = w.store.SetPassFile(ctx, repository.ScopeFor(p), p.ID, path, p.UpdatedAt)
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		logs.Logger.WithError(err).WithField("pass_id", p.ID).Warn("failed to record pass file path")
	}
	return data, nil
}
