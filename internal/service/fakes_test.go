package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/digkill/imagestudio/internal/config"
	"github.com/digkill/imagestudio/internal/models"
	"github.com/digkill/imagestudio/internal/repository"
	"github.com/digkill/imagestudio/internal/wavespeed"
)

var testPricing = config.Pricing{FreeStandardStart: 3, FreeHDStart: 1, PriceHD: 37, PricePro: 60}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memLedger applies every mutation under one lock, which gives it the same
// compare-and-update semantics as the conditional SQL updates.
type memLedger struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account
	usage    []models.UsageEntry
	credits  map[string]models.Grant
	failGet  error
}

func newMemLedger(accounts ...models.Account) *memLedger {
	l := &memLedger{accounts: map[int64]*models.Account{}, credits: map[string]models.Grant{}}
	for i := range accounts {
		acc := accounts[i]
		l.accounts[acc.UserID] = &acc
	}
	return l
}

func (l *memLedger) snapshot(userID int64) models.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.accounts[userID]
}

func (l *memLedger) usageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.usage)
}

func (l *memLedger) Get(_ context.Context, userID int64) (*models.Account, error) {
	if l.failGet != nil {
		return nil, l.failGet
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[userID]
	if !ok {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}

func (l *memLedger) Ensure(_ context.Context, userID int64, freeStandard, freeHD int) (*models.Account, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[userID]; ok {
		cp := *acc
		return &cp, false, nil
	}
	acc := &models.Account{UserID: userID, FreeStandard: freeStandard, FreeHD: freeHD}
	l.accounts[userID] = acc
	cp := *acc
	return &cp, true, nil
}

func (l *memLedger) SetUnlimited(_ context.Context, userID int64, unlimited bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[userID]
	if !ok {
		return repository.ErrNotFound
	}
	acc.IsUnlimited = unlimited
	return nil
}

func (l *memLedger) Balance(_ context.Context, userID int64) (int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[userID]
	if !ok {
		return 0, false, nil
	}
	return acc.Balance, true, nil
}

func (l *memLedger) RecordUsage(_ context.Context, entry models.UsageEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage = append(l.usage, entry)
	return nil
}

func (l *memLedger) ConsumeFree(_ context.Context, entry models.UsageEntry) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[entry.UserID]
	if !ok {
		return false, nil
	}
	switch entry.Kind {
	case models.KindStandard:
		if acc.FreeStandard <= 0 {
			return false, nil
		}
		acc.FreeStandard--
	case models.KindHD:
		if acc.FreeHD <= 0 {
			return false, nil
		}
		acc.FreeHD--
	default:
		return false, errors.New("no free counter")
	}
	l.usage = append(l.usage, entry)
	return true, nil
}

func (l *memLedger) Debit(_ context.Context, entry models.UsageEntry) (int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[entry.UserID]
	if !ok || acc.Balance < entry.Cost {
		return 0, false, nil
	}
	acc.Balance -= entry.Cost
	acc.TotalSpent += entry.Cost
	l.usage = append(l.usage, entry)
	return acc.Balance, true, nil
}

func (l *memLedger) Credit(_ context.Context, userID int64, grant models.Grant, txType models.TxType, reference string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := string(txType) + "|" + reference
	if _, seen := l.credits[key]; seen {
		return false, nil
	}
	acc, ok := l.accounts[userID]
	if !ok {
		return false, repository.ErrNotFound
	}
	l.credits[key] = grant
	acc.Balance += grant.Balance
	acc.FreeStandard += grant.FreeStandard
	acc.FreeHD += grant.FreeHD
	return true, nil
}

type memPrompts struct {
	templates map[promptKey]models.PromptTemplate
	err       error
}

func (m *memPrompts) Find(_ context.Context, variant models.ModelVariant, intensity, environment string) (*models.PromptTemplate, error) {
	if m.err != nil {
		return nil, m.err
	}
	tpl, ok := m.templates[promptKey{variant, intensity, environment}]
	if !ok {
		return nil, nil
	}
	return &tpl, nil
}

func (m *memPrompts) List(context.Context) ([]models.PromptTemplate, error) {
	out := make([]models.PromptTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t)
	}
	return out, nil
}

func (m *memPrompts) Upsert(_ context.Context, tpl *models.PromptTemplate) (*models.PromptTemplate, error) {
	if m.templates == nil {
		m.templates = map[promptKey]models.PromptTemplate{}
	}
	m.templates[promptKey{tpl.ModelVariant, tpl.Intensity, tpl.Environment}] = *tpl
	return tpl, nil
}

func (m *memPrompts) Delete(context.Context, int64) error { return nil }

type stubProvider struct {
	mu          sync.Mutex
	submitErr   error
	outcome     wavespeed.JobOutcome
	awaitErr    error
	result      *wavespeed.Result
	resultErr   error
	submitted   []wavespeed.SubmitRequest
	resultCalls int
}

func (p *stubProvider) Submit(_ context.Context, req wavespeed.SubmitRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, req)
	if p.submitErr != nil {
		return "", p.submitErr
	}
	return "req-1", nil
}

func (p *stubProvider) AwaitResult(_ context.Context, requestID string, _ wavespeed.PollOptions) (wavespeed.JobOutcome, error) {
	out := p.outcome
	out.RequestID = requestID
	return out, p.awaitErr
}

func (p *stubProvider) GetResult(context.Context, string) (*wavespeed.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resultCalls++
	return p.result, p.resultErr
}

type stubUploader struct {
	err error
}

func (u stubUploader) UploadSource(context.Context, []byte) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	return "https://cdn.example.com/sources/a.jpg", nil
}

type memGenerations struct {
	mu      sync.Mutex
	records map[string]models.GenerationRecord
}

func newMemGenerations() *memGenerations {
	return &memGenerations{records: map[string]models.GenerationRecord{}}
}

func (m *memGenerations) Create(_ context.Context, rec *models.GenerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = *rec
	return nil
}

func (m *memGenerations) GetByID(_ context.Context, id string) (*models.GenerationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memGenerations) ListByUser(_ context.Context, userID int64, _, _ int) ([]models.GenerationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GenerationRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	purchases []string
	refunds   []string
}

func (n *recordingNotifier) PaymentCredited(_ context.Context, _ int64, _ *models.CreditPackage, paymentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.purchases = append(n.purchases, paymentID)
}

func (n *recordingNotifier) GenerationRefunded(_ context.Context, _ int64, _ *models.Decision, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refunds = append(n.refunds, reason)
}
