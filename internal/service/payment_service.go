package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/digkill/imagestudio/internal/config"
	"github.com/digkill/imagestudio/internal/models"
)

const paymentProvider = "nowpayments"

var (
	ErrInvalidSignature = errors.New("invalid payment signature")
	ErrInvalidPayment   = errors.New("invalid payment notification")
)

type PaymentStore interface {
	Save(ctx context.Context, payment *models.Payment) error
}

type PackageLookup interface {
	Get(ctx context.Context, id int64) (*models.CreditPackage, error)
}

// PaymentService turns verified payment notifications into account credit. The credited
// amounts come from the stored package, never from the notification body.
type PaymentService struct {
	secret   []byte
	payments PaymentStore
	packages PackageLookup
	access   *AccessService
	notifier Notifier
	log      *slog.Logger
}

type PaymentResult struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Credited  bool   `json:"credited"`
}

func NewPaymentService(cfg config.Config, log *slog.Logger, payments PaymentStore, packages PackageLookup, access *AccessService, notifier Notifier) *PaymentService {
	return &PaymentService{
		secret:   []byte(cfg.PaymentIPNSecret),
		payments: payments,
		packages: packages,
		access:   access,
		notifier: notifier,
		log:      log,
	}
}

// HandleIPN verifies and applies one instant payment notification. Redelivered
// notifications for an already credited payment are acknowledged without crediting again.
func (s *PaymentService) HandleIPN(ctx context.Context, body []byte, signature string) (*PaymentResult, error) {
	fields, err := decodeIPN(body)
	if err != nil {
		return nil, err
	}
	if err := s.verify(fields, signature); err != nil {
		return nil, err
	}

	paymentID := stringField(fields, "payment_id")
	status := strings.ToLower(stringField(fields, "payment_status"))
	if paymentID == "" || status == "" {
		return nil, fmt.Errorf("%w: payment_id and payment_status are required", ErrInvalidPayment)
	}
	userID, packageID, err := parseOrderID(stringField(fields, "order_id"))
	if err != nil {
		return nil, err
	}

	result := &PaymentResult{PaymentID: paymentID, Status: status}

	record := &models.Payment{
		UserID:            userID,
		PackageID:         packageID,
		Provider:          paymentProvider,
		ProviderPaymentID: paymentID,
		Currency:          stringField(fields, "price_currency"),
		Amount:            stringField(fields, "price_amount"),
		Status:            status,
		RawPayload:        string(body),
	}
	if err := s.payments.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	if status != "finished" {
		s.log.Info("payment status updated", "payment_id", paymentID, "status", status)
		return result, nil
	}

	pkg, err := s.packages.Get(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("package for payment %s: %w", paymentID, err)
	}
	if err := matchesPackagePrice(pkg, record.Amount, record.Currency); err != nil {
		s.log.Warn("payment does not match package price", "payment_id", paymentID, "package_id", packageID,
			"amount", record.Amount, "currency", record.Currency, "err", err)
		return nil, err
	}

	applied, err := s.access.Credit(ctx, userID, pkg.Grant(), models.TxPurchase, paymentProvider+":"+paymentID)
	if err != nil {
		return nil, fmt.Errorf("credit payment %s: %w", paymentID, err)
	}
	result.Credited = applied
	if !applied {
		s.log.Info("payment already credited", "payment_id", paymentID)
		return result, nil
	}

	if s.notifier != nil {
		s.notifier.PaymentCredited(ctx, userID, pkg, paymentID)
	}
	return result, nil
}

// verify checks the hex HMAC-SHA512 of the notification re-serialized with sorted keys.
func (s *PaymentService) verify(fields map[string]any, signature string) error {
	if len(s.secret) == 0 || signature == "" {
		return ErrInvalidSignature
	}
	expected, err := SignIPN(s.secret, fields)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return ErrInvalidSignature
	}
	return nil
}

// SignIPN computes the notification signature for fields.
func SignIPN(secret []byte, fields map[string]any) (string, error) {
	canonical, err := canonicalJSON(fields)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha512.New, secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// canonicalJSON serializes with sorted keys (encoding/json sorts map keys), without HTML
// escaping and with numbers kept as sent.
func canonicalJSON(fields map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func decodeIPN(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayment, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayment)
	}
	return fields, nil
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// matchesPackagePrice checks that the invoiced price equals the package price. amount is in
// major units as sent by the provider, e.g. "9.99".
func matchesPackagePrice(pkg *models.CreditPackage, amount, currency string) error {
	if !strings.EqualFold(strings.TrimSpace(currency), pkg.Currency) {
		return fmt.Errorf("%w: currency %q does not match package currency %q", ErrInvalidPayment, currency, pkg.Currency)
	}
	minor, err := toMinorUnits(amount)
	if err != nil {
		return err
	}
	if minor != int64(pkg.PriceMinorUnits) {
		return fmt.Errorf("%w: paid %s %s, package costs %d minor units", ErrInvalidPayment, amount, currency, pkg.PriceMinorUnits)
	}
	return nil
}

// toMinorUnits converts a decimal amount with at most two significant fraction digits to
// hundredths without going through floating point.
func toMinorUnits(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	whole, frac, _ := strings.Cut(amount, ".")
	frac = strings.TrimRight(frac, "0")
	if whole == "" || len(frac) > 2 {
		return 0, fmt.Errorf("%w: unsupported price_amount %q", ErrInvalidPayment, amount)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("%w: unsupported price_amount %q", ErrInvalidPayment, amount)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || strings.HasPrefix(frac, "-") || strings.HasPrefix(frac, "+") {
		return 0, fmt.Errorf("%w: unsupported price_amount %q", ErrInvalidPayment, amount)
	}
	return units*100 + cents, nil
}

// parseOrderID splits "<userID>:<packageID>".
func parseOrderID(orderID string) (int64, int64, error) {
	userPart, packagePart, ok := strings.Cut(orderID, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: malformed order_id %q", ErrInvalidPayment, orderID)
	}
	userID, err := strconv.ParseInt(userPart, 10, 64)
	if err != nil || userID <= 0 {
		return 0, 0, fmt.Errorf("%w: bad user in order_id %q", ErrInvalidPayment, orderID)
	}
	packageID, err := strconv.ParseInt(packagePart, 10, 64)
	if err != nil || packageID <= 0 {
		return 0, 0, fmt.Errorf("%w: bad package in order_id %q", ErrInvalidPayment, orderID)
	}
	return userID, packageID, nil
}

// OrderID builds the order reference a checkout must send to the payment provider.
func OrderID(userID, packageID int64) string {
	return strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(packageID, 10)
}
