// Package memstore is an in-memory implementation of the repository
// layer used by service and handler tests. Row locks are emulated with a
// mutex per pass and per template, held until InTx returns.
//
// Writes made inside InTx apply immediately and are not rolled back when
// fn fails. Callers only write after all of their checks pass.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
	"github.com/iliyamo/wallet-pass-engine/internal/utils"
)

// Operation names accepted by Fail.
const (
	OpCreateScanEvent    = "CreateScanEvent"
	OpListMatching       = "ListMatchingPasses"
	OpSavePassData       = "SavePassData"
	OpSetPassFile        = "SetPassFile"
	OpListRegistrations  = "ListActiveRegistrations"
	OpCreatePassUpdate   = "CreatePassUpdate"
	OpFindScannerLink    = "FindScannerLinkByTokenHash"
	OpFindPassByTypeSer  = "FindPassByTypeAndSerial"
	OpRegisterDevice     = "RegisterDevice"
	OpListSerialsUpdated = "ListSerialsUpdatedSince"
)

type template struct {
	userID uint64
}

// Store holds every table in maps guarded by mu.
type Store struct {
	mu sync.Mutex

	passes    map[uint64]*model.Pass
	templates map[uint64]template
	updates   map[uint64]*model.PassUpdate
	regs      []*model.DeviceRegistration
	bulks     map[uint64]*model.BulkUpdate
	scans     []*model.ScanEvent
	links     map[string]*model.ScannerLink
	nextID    uint64

	passLocks     map[uint64]*sync.Mutex
	templateLocks map[uint64]*sync.Mutex

	failures map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		passes:        map[uint64]*model.Pass{},
		templates:     map[uint64]template{},
		updates:       map[uint64]*model.PassUpdate{},
		bulks:         map[uint64]*model.BulkUpdate{},
		links:         map[string]*model.ScannerLink{},
		passLocks:     map[uint64]*sync.Mutex{},
		templateLocks: map[uint64]*sync.Mutex{},
		failures:      map[string]error{},
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// failure must be called with mu held.
func (s *Store) failure(op string) error { return s.failures[op] }

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

func clonePass(p *model.Pass) *model.Pass {
	c := *p
	c.Platforms = append([]model.Platform(nil), p.Platforms...)
	c.Data = make(map[string]string, len(p.Data))
	for k, v := range p.Data {
		c.Data[k] = v
	}
	c.PkpassPath = cloneStr(p.PkpassPath)
	c.VoidedAt = cloneTime(p.VoidedAt)
	c.RedeemedAt = cloneTime(p.RedeemedAt)
	c.ExpiresAt = cloneTime(p.ExpiresAt)
	return &c
}

func cloneUpdate(u *model.PassUpdate) *model.PassUpdate {
	c := *u
	c.FieldsChanged = make(map[string]model.FieldChange, len(u.FieldsChanged))
	for k, v := range u.FieldsChanged {
		c.FieldsChanged[k] = model.FieldChange{Old: cloneStr(v.Old), New: v.New}
	}
	c.ChangeMessages = append([]string(nil), u.ChangeMessages...)
	c.InitiatedBy = cloneUint(u.InitiatedBy)
	c.ErrorMessage = cloneStr(u.ErrorMessage)
	return &c
}

func cloneBulk(b *model.BulkUpdate) *model.BulkUpdate {
	c := *b
	c.StartedAt = cloneTime(b.StartedAt)
	c.CompletedAt = cloneTime(b.CompletedAt)
	return &c
}

func cloneStr(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneUint(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// ---- fixtures ----

// AddTemplate creates a template owned by userID and returns its ID.
func (s *Store) AddTemplate(userID uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.templates[id] = template{userID: userID}
	return id
}

// AddPass stores a copy of p with a fresh ID and returns the copy. Empty
// serial, pass type, usage type and token get defaults.
func (s *Store) AddPass(p model.Pass) *model.Pass {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := clonePass(&p)
	c.ID = s.id()
	if c.SerialNumber == "" {
		c.SerialNumber = "SER-" + strconv.FormatUint(c.ID, 10)
	}
	if c.PassTypeID == "" {
		c.PassTypeID = "pass.com.example.test"
	}
	if c.UsageType == "" {
		c.UsageType = model.UsageSingle
	}
	if c.AuthenticationToken == "" {
		tok, err := utils.RandomHex(16)
		if err != nil {
			panic(err)
		}
		c.AuthenticationToken = tok
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.passes[c.ID] = c
	return clonePass(c)
}

// AddScannerLink stores an active link for the raw token.
func (s *Store) AddScannerLink(userID uint64, rawToken string) *model.ScannerLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &model.ScannerLink{ID: s.id(), UserID: userID, Name: "scanner", TokenHash: utils.HashToken(rawToken), IsActive: true}
	s.links[l.TokenHash] = l
	c := *l
	return &c
}

// AddRegistration stores an active device registration.
func (s *Store) AddRegistration(deviceID, passTypeID, serial, pushToken string) {
	_, _ = s.RegisterDevice(context.Background(), deviceID, passTypeID, serial, pushToken)
}

// Pass returns a snapshot of a pass or nil.
func (s *Store) Pass(id uint64) *model.Pass {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.passes[id]; ok {
		return clonePass(p)
	}
	return nil
}

// SetPass replaces the stored pass with the same ID.
func (s *Store) SetPass(p *model.Pass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes[p.ID] = clonePass(p)
}

// PassUpdates returns the updates of a pass in insertion order.
func (s *Store) PassUpdates(passID uint64) []*model.PassUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.PassUpdate
	for _, u := range s.updates {
		if u.PassID == passID {
			out = append(out, cloneUpdate(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ScanEvents returns every recorded event in insertion order.
func (s *Store) ScanEvents() []*model.ScanEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.ScanEvent, 0, len(s.scans))
	for _, e := range s.scans {
		c := *e
		out = append(out, &c)
	}
	return out
}

// Registrations returns every registration, active or not.
func (s *Store) Registrations() []model.DeviceRegistration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DeviceRegistration, 0, len(s.regs))
	for _, r := range s.regs {
		out = append(out, *r)
	}
	return out
}

// ---- transactions ----

// InTx runs fn with a transaction whose locks are released on return.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	t := &tx{s: s}
	defer t.release()
	return fn(t)
}

type tx struct {
	s    *Store
	held []*sync.Mutex
	mine map[*sync.Mutex]bool
}

func (t *tx) lock(m *sync.Mutex) {
	if t.mine == nil {
		t.mine = map[*sync.Mutex]bool{}
	}
	if t.mine[m] {
		return
	}
	m.Lock()
	t.mine[m] = true
	t.held = append(t.held, m)
}

func (t *tx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
}

func (s *Store) passLock(id uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.passLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.passLocks[id] = m
	}
	return m
}

func (s *Store) templateLock(id uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.templateLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.templateLocks[id] = m
	}
	return m
}

func (t *tx) LockPass(ctx context.Context, scope repository.Scope, passID uint64) (*model.Pass, error) {
	t.lock(t.s.passLock(passID))
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.passes[passID]
	if !ok || p.UserID != scope.UserID {
		return nil, repository.ErrNotFound
	}
	return clonePass(p), nil
}

func (t *tx) LockPassBySerial(ctx context.Context, scope repository.Scope, serial string) (*model.Pass, error) {
	p, err := t.s.GetPassBySerial(ctx, scope, serial)
	if err != nil {
		return nil, err
	}
	return t.LockPass(ctx, scope, p.ID)
}

func (t *tx) SavePassData(ctx context.Context, p *model.Pass) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if err := t.s.failure(OpSavePassData); err != nil {
		return err
	}
	stored, ok := t.s.passes[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	c := clonePass(p)
	stored.Data = c.Data
	stored.PkpassPath = nil
	stored.UpdatedAt = now
	p.PkpassPath = nil
	p.UpdatedAt = now
	return nil
}

func (t *tx) MarkRedeemed(ctx context.Context, p *model.Pass) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	stored, ok := t.s.passes[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.RedeemedAt != nil {
		return repository.ErrConflict
	}
	now := time.Now().UTC()
	stored.RedeemedAt = &now
	stored.UpdatedAt = now
	p.RedeemedAt = cloneTime(&now)
	p.UpdatedAt = now
	return nil
}

func (t *tx) CountActiveRegistrations(ctx context.Context, passTypeID, serial string) (int, error) {
	regs, err := t.s.ListActiveRegistrations(ctx, passTypeID, serial)
	return len(regs), err
}

func (t *tx) CreatePassUpdate(ctx context.Context, u *model.PassUpdate) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if err := t.s.failure(OpCreatePassUpdate); err != nil {
		return err
	}
	u.ID = t.s.id()
	u.UpdatedAt = u.CreatedAt
	t.s.updates[u.ID] = cloneUpdate(u)
	return nil
}

func (t *tx) FindInFlightBulkUpdate(ctx context.Context, scope repository.Scope, templateID uint64) (*model.BulkUpdate, error) {
	t.lock(t.s.templateLock(templateID))
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, b := range t.s.bulks {
		if b.UserID == scope.UserID && b.TemplateID == templateID && b.Status.InFlight() {
			return cloneBulk(b), nil
		}
	}
	return nil, nil
}

func (t *tx) CountMatchingPasses(ctx context.Context, scope repository.Scope, templateID uint64, f model.PassFilter, now time.Time) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return len(t.s.matching(scope, templateID, f, now)), nil
}

func (t *tx) CreateBulkUpdate(ctx context.Context, b *model.BulkUpdate) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	b.ID = t.s.id()
	b.UpdatedAt = b.CreatedAt
	t.s.bulks[b.ID] = cloneBulk(b)
	return nil
}

// ---- passes ----

func (s *Store) PassOwner(ctx context.Context, id uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passes[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return p.UserID, nil
}

func (s *Store) GetPass(ctx context.Context, scope repository.Scope, id uint64) (*model.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if p.UserID != scope.UserID {
		return nil, repository.ErrForbidden
	}
	return clonePass(p), nil
}

func (s *Store) GetPassBySerial(ctx context.Context, scope repository.Scope, serial string) (*model.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.passes {
		if p.SerialNumber == serial && p.UserID == scope.UserID {
			return clonePass(p), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) FindPassBySerial(ctx context.Context, serial string) (*model.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.passes {
		if p.SerialNumber == serial {
			return clonePass(p), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) FindPassByTypeAndSerial(ctx context.Context, passTypeID, serial string) (*model.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpFindPassByTypeSer); err != nil {
		return nil, err
	}
	for _, p := range s.passes {
		if p.SerialNumber == serial && p.PassTypeID == passTypeID {
			return clonePass(p), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) SetPassFile(ctx context.Context, scope repository.Scope, passID uint64, path string, expectUpdatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpSetPassFile); err != nil {
		return err
	}
	p, ok := s.passes[passID]
	if !ok || p.UserID != scope.UserID || !p.UpdatedAt.Equal(expectUpdatedAt) {
		return repository.ErrConflict
	}
	p.PkpassPath = &path
	return nil
}

// matching must be called with mu held.
func (s *Store) matching(scope repository.Scope, templateID uint64, f model.PassFilter, now time.Time) []*model.Pass {
	var out []*model.Pass
	for _, p := range s.passes {
		if p.UserID == scope.UserID && p.TemplateID == templateID && f.Matches(p, now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListMatchingPasses(ctx context.Context, scope repository.Scope, templateID uint64, f model.PassFilter, now time.Time, afterID uint64, limit int) ([]*model.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpListMatching); err != nil {
		return nil, err
	}
	var out []*model.Pass
	for _, p := range s.matching(scope, templateID, f, now) {
		if p.ID <= afterID {
			continue
		}
		out = append(out, clonePass(p))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListSerialsUpdatedSince(ctx context.Context, deviceID, passTypeID string, since *time.Time) ([]string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpListSerialsUpdated); err != nil {
		return nil, time.Time{}, err
	}
	var (
		matched []*model.Pass
		latest  time.Time
	)
	for _, r := range s.regs {
		if r.DeviceLibraryID != deviceID || r.PassTypeID != passTypeID || !r.IsActive {
			continue
		}
		for _, p := range s.passes {
			if p.PassTypeID == r.PassTypeID && p.SerialNumber == r.SerialNumber {
				if since == nil || p.UpdatedAt.After(*since) {
					matched = append(matched, p)
				}
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	serials := make([]string, 0, len(matched))
	for _, p := range matched {
		serials = append(serials, p.SerialNumber)
		if p.UpdatedAt.After(latest) {
			latest = p.UpdatedAt.UTC()
		}
	}
	return serials, latest, nil
}

// ---- pass updates ----

func (s *Store) GetPassUpdate(ctx context.Context, id uint64) (*model.PassUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.updates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUpdate(u), nil
}

func (s *Store) ListPassUpdates(ctx context.Context, scope repository.Scope, passID uint64, limit, offset int) ([]*model.PassUpdate, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*model.PassUpdate
	for _, u := range s.updates {
		if u.PassID == passID && u.UserID == scope.UserID {
			all = append(all, u)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	out := []*model.PassUpdate{}
	for i := offset; i < len(all) && len(out) < limit; i++ {
		out = append(out, cloneUpdate(all[i]))
	}
	return out, len(all), nil
}

func appendErr(cur *string, msg *string) *string {
	if msg == nil {
		return cur
	}
	if cur == nil || *cur == "" {
		return cloneStr(msg)
	}
	joined := *cur + "; " + *msg
	return &joined
}

func (s *Store) SetAppleDelivery(ctx context.Context, id uint64, status model.DeliveryStatus, notified int, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.updates[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.AppleDeliveryStatus = status
	u.AppleDevicesNotified = notified
	u.ErrorMessage = appendErr(u.ErrorMessage, errMsg)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetGoogleDelivery(ctx context.Context, id uint64, status model.DeliveryStatus, updated bool, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.updates[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.GoogleDeliveryStatus = status
	u.GoogleUpdated = updated
	u.ErrorMessage = appendErr(u.ErrorMessage, errMsg)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AppendPassUpdateError(ctx context.Context, id uint64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.updates[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.ErrorMessage = appendErr(u.ErrorMessage, &msg)
	return nil
}

// ---- device registrations ----

func (s *Store) RegisterDevice(ctx context.Context, deviceID, passTypeID, serial, pushToken string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpRegisterDevice); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	for _, r := range s.regs {
		if r.DeviceLibraryID == deviceID && r.PassTypeID == passTypeID && r.SerialNumber == serial {
			r.PushToken = pushToken
			r.IsActive = true
			r.UpdatedAt = now
			return false, nil
		}
	}
	s.regs = append(s.regs, &model.DeviceRegistration{
		ID: s.id(), DeviceLibraryID: deviceID, PassTypeID: passTypeID, SerialNumber: serial,
		PushToken: pushToken, IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	return true, nil
}

func (s *Store) UnregisterDevice(ctx context.Context, deviceID, passTypeID, serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.regs {
		if r.DeviceLibraryID == deviceID && r.PassTypeID == passTypeID && r.SerialNumber == serial {
			s.regs = append(s.regs[:i], s.regs[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) ListActiveRegistrations(ctx context.Context, passTypeID, serial string) ([]model.DeviceRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpListRegistrations); err != nil {
		return nil, err
	}
	var out []model.DeviceRegistration
	for _, r := range s.regs {
		if r.PassTypeID == passTypeID && r.SerialNumber == serial && r.IsActive {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *Store) DeactivatePushToken(ctx context.Context, pushToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.regs {
		if r.PushToken == pushToken {
			r.IsActive = false
		}
	}
	return nil
}

// ---- templates and bulk updates ----

func (s *Store) TemplateExists(ctx context.Context, scope repository.Scope, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	return ok && t.userID == scope.UserID, nil
}

func (s *Store) GetBulkUpdate(ctx context.Context, scope repository.Scope, id uint64) (*model.BulkUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bulks[id]
	if !ok || b.UserID != scope.UserID {
		return nil, repository.ErrNotFound
	}
	return cloneBulk(b), nil
}

func (s *Store) LoadBulkUpdate(ctx context.Context, id uint64) (*model.BulkUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bulks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneBulk(b), nil
}

func (s *Store) StartBulkUpdate(ctx context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bulks[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.Status = model.BulkProcessing
	if b.StartedAt == nil {
		b.StartedAt = cloneTime(&at)
	}
	b.ProcessedCount, b.FailedCount = 0, 0
	b.UpdatedAt = at
	return nil
}

func (s *Store) IncrementBulkProgress(ctx context.Context, id uint64, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bulks[id]
	if !ok {
		return repository.ErrNotFound
	}
	if failed {
		b.FailedCount++
	} else {
		b.ProcessedCount++
	}
	return nil
}

func (s *Store) FinishBulkUpdate(ctx context.Context, id uint64, status model.BulkStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bulks[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.Status = status
	b.CompletedAt = cloneTime(&at)
	b.UpdatedAt = at
	return nil
}

// ---- scan events and scanner links ----

func (s *Store) CreateScanEvent(ctx context.Context, e *model.ScanEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpCreateScanEvent); err != nil {
		return err
	}
	e.ID = s.id()
	c := *e
	c.PassID = cloneUint(e.PassID)
	s.scans = append(s.scans, &c)
	return nil
}

func (s *Store) ListScanEvents(ctx context.Context, scope repository.Scope, passID uint64, limit, offset int) ([]*model.ScanEvent, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*model.ScanEvent
	for i := len(s.scans) - 1; i >= 0; i-- {
		e := s.scans[i]
		if e.UserID == scope.UserID && e.PassID != nil && *e.PassID == passID {
			all = append(all, e)
		}
	}
	out := []*model.ScanEvent{}
	for i := offset; i < len(all) && len(out) < limit; i++ {
		c := *all[i]
		out = append(out, &c)
	}
	return out, len(all), nil
}

func (s *Store) FindScannerLinkByTokenHash(ctx context.Context, tokenHash string) (*model.ScannerLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpFindScannerLink); err != nil {
		return nil, err
	}
	l, ok := s.links[strings.ToLower(tokenHash)]
	if !ok || !l.IsActive {
		return nil, repository.ErrNotFound
	}
	c := *l
	return &c, nil
}
