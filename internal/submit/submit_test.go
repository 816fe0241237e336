package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"AgenC-Operator/internal/ledger"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		message string
		want    ErrorKind
	}{
		{"Blockhash not found", KindBlockhashExpired},
		{"block height exceeded", KindBlockhashExpired},
		{"Transaction has already been processed", KindBlockhashExpired},
		{"429 Too Many Requests", KindRateLimited},
		{"rate limit hit", KindRateLimited},
		{"Insufficient funds for transaction", KindPermanent},
		{"insufficient lamports 100", KindPermanent},
		{"invalid signature", KindPermanent},
		{"Transaction simulation failed: custom program error: 0x1", KindPermanent},
		{"connection reset by peer", KindRetryable},
		{"i/o timeout", KindRetryable},
		{"something nobody has seen before", KindRetryable},
		// blockhash 的优先级高于永久失败的子串。
		{"simulation failed: blockhash not found", KindBlockhashExpired},
	}
	for _, tc := range cases {
		if got := ClassifyError(tc.message); got != tc.want {
			t.Fatalf("ClassifyError(%q) = %v, want %v", tc.message, got, tc.want)
		}
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
	}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := calculateDelay(tc.attempt, cfg); got != tc.want {
			t.Fatalf("calculateDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestCalculateDelayJitterRange(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
		Jitter:    true,
	}
	for i := 0; i < 50; i++ {
		got := calculateDelay(0, cfg)
		if got < 500*time.Millisecond || got >= 750*time.Millisecond {
			t.Fatalf("jittered delay %v outside [500ms, 750ms)", got)
		}
	}
}

// scriptedLedger 按预设脚本响应发送与状态查询。
type scriptedLedger struct {
	sendErrs    []error
	sendSig     string
	sendCalls   int
	statuses    []*ledger.SignatureStatus
	statusErrs  []error
	statusCalls int
}

func (f *scriptedLedger) GetBalance(ctx context.Context, address string) (uint64, error) {
	return 0, nil
}

func (f *scriptedLedger) GetTokenAccountBalance(ctx context.Context, address string) (uint64, error) {
	return 0, nil
}

func (f *scriptedLedger) GetAccountInfo(ctx context.Context, address string) ([]byte, error) {
	return nil, nil
}

func (f *scriptedLedger) GetLatestBlockhash(ctx context.Context) (ledger.Blockhash, error) {
	return ledger.Blockhash{}, nil
}

func (f *scriptedLedger) SendTransaction(ctx context.Context, signedTx []byte) (string, error) {
	call := f.sendCalls
	f.sendCalls++
	if call < len(f.sendErrs) && f.sendErrs[call] != nil {
		return "", f.sendErrs[call]
	}
	return f.sendSig, nil
}

func (f *scriptedLedger) GetSignatureStatus(ctx context.Context, signature string) (*ledger.SignatureStatus, error) {
	call := f.statusCalls
	f.statusCalls++
	if call < len(f.statusErrs) && f.statusErrs[call] != nil {
		return nil, f.statusErrs[call]
	}
	if call < len(f.statuses) {
		return f.statuses[call], nil
	}
	return nil, nil
}

func (f *scriptedLedger) GetProgramAccounts(ctx context.Context, programID string, filters []ledger.MemcmpFilter) ([]ledger.ProgramAccount, error) {
	return nil, nil
}

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxSendRetries:    3,
		MaxConfirmRetries: 3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          2 * time.Millisecond,
		PollInterval:      time.Millisecond,
	}
}

func TestSendWithRetryRecovers(t *testing.T) {
	fake := &scriptedLedger{
		sendErrs: []error{errors.New("connection refused"), nil},
		sendSig:  "sig-1",
	}
	sub := NewSubmitter(fake, fastConfig(), nil)

	result, err := sub.SendWithRetry(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("SendWithRetry: %v", err)
	}
	if result.Status != StatusConfirmed || result.Signature != "sig-1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if fake.sendCalls != 2 {
		t.Fatalf("send calls = %d, want 2", fake.sendCalls)
	}
}

func TestSendWithRetryPermanentStopsImmediately(t *testing.T) {
	fake := &scriptedLedger{
		sendErrs: []error{errors.New("insufficient funds")},
	}
	sub := NewSubmitter(fake, fastConfig(), nil)

	result, err := sub.SendWithRetry(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("SendWithRetry: %v", err)
	}
	if result.Status != StatusPermanentFailure {
		t.Fatalf("status = %v, want permanent failure", result.Status)
	}
	if fake.sendCalls != 1 {
		t.Fatalf("send calls = %d, want 1", fake.sendCalls)
	}
}

func TestSendWithRetryBlockhashExpiredAborts(t *testing.T) {
	fake := &scriptedLedger{
		sendErrs: []error{errors.New("Blockhash not found")},
	}
	sub := NewSubmitter(fake, fastConfig(), nil)

	result, err := sub.SendWithRetry(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("SendWithRetry: %v", err)
	}
	if result.Status != StatusRetryableFailure {
		t.Fatalf("status = %v, want retryable failure", result.Status)
	}
	if !result.RequiresBlockhashRefresh() {
		t.Fatal("result must signal a blockhash refresh")
	}
	if fake.sendCalls != 1 {
		t.Fatalf("send calls = %d, want 1", fake.sendCalls)
	}
}

func TestSendWithRetryExhausted(t *testing.T) {
	fake := &scriptedLedger{
		sendErrs: []error{
			errors.New("connection reset"),
			errors.New("connection reset"),
			errors.New("connection reset"),
		},
	}
	sub := NewSubmitter(fake, fastConfig(), nil)

	result, err := sub.SendWithRetry(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("SendWithRetry: %v", err)
	}
	if result.Status != StatusRetryableFailure {
		t.Fatalf("status = %v, want retryable failure", result.Status)
	}
	if fake.sendCalls != 3 {
		t.Fatalf("send calls = %d, want 3", fake.sendCalls)
	}
}

func TestPollConfirmationConfirms(t *testing.T) {
	confirmations := uint64(5)
	fake := &scriptedLedger{
		statuses: []*ledger.SignatureStatus{
			nil,
			{Slot: 10, Confirmations: &confirmations, ConfirmationStatus: "confirmed"},
		},
	}
	sub := NewSubmitter(fake, fastConfig(), nil)

	result, err := sub.PollConfirmation(context.Background(), "sig-2")
	if err != nil {
		t.Fatalf("PollConfirmation: %v", err)
	}
	if result.Status != StatusConfirmed {
		t.Fatalf("status = %v, want confirmed", result.Status)
	}
}

func TestPollConfirmationOnChainFailure(t *testing.T) {
	fake := &scriptedLedger{
		statuses: []*ledger.SignatureStatus{
			{Slot: 10, ConfirmationStatus: "confirmed", Err: `{"InstructionError":[0,"Custom"]}`},
		},
	}
	sub := NewSubmitter(fake, fastConfig(), nil)

	result, err := sub.PollConfirmation(context.Background(), "sig-3")
	if err != nil {
		t.Fatalf("PollConfirmation: %v", err)
	}
	if result.Status != StatusPermanentFailure {
		t.Fatalf("status = %v, want permanent failure", result.Status)
	}
}

func TestPollConfirmationTimeoutKeepsSignature(t *testing.T) {
	fake := &scriptedLedger{}
	sub := NewSubmitter(fake, fastConfig(), nil)

	result, err := sub.PollConfirmation(context.Background(), "sig-4")
	if err != nil {
		t.Fatalf("PollConfirmation: %v", err)
	}
	if result.Status != StatusConfirmationTimeout {
		t.Fatalf("status = %v, want confirmation timeout", result.Status)
	}
	// 超时不是失败：签名必须保留，供调用方稍后复查。
	if result.Signature != "sig-4" {
		t.Fatalf("signature = %q, want sig-4", result.Signature)
	}
}

func TestPollConfirmationSurvivesRPCErrors(t *testing.T) {
	confirmations := uint64(1)
	fake := &scriptedLedger{
		statusErrs: []error{errors.New("transport broke")},
		statuses: []*ledger.SignatureStatus{
			nil,
			{Slot: 3, Confirmations: &confirmations, ConfirmationStatus: "finalized"},
		},
	}
	sub := NewSubmitter(fake, fastConfig(), nil)

	result, err := sub.PollConfirmation(context.Background(), "sig-5")
	if err != nil {
		t.Fatalf("PollConfirmation: %v", err)
	}
	if result.Status != StatusConfirmed {
		t.Fatalf("status = %v, want confirmed", result.Status)
	}
}

func TestSendAndConfirmWithRetry(t *testing.T) {
	confirmations := uint64(2)
	fake := &scriptedLedger{
		sendSig: "sig-6",
		statuses: []*ledger.SignatureStatus{
			{Slot: 8, Confirmations: &confirmations, ConfirmationStatus: "confirmed"},
		},
	}
	sub := NewSubmitter(fake, fastConfig(), nil)

	result, err := sub.SendAndConfirmWithRetry(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("SendAndConfirmWithRetry: %v", err)
	}
	if result.Status != StatusConfirmed || result.Signature != "sig-6" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSendWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &scriptedLedger{
		sendErrs: []error{errors.New("connection reset")},
	}
	sub := NewSubmitter(fake, fastConfig(), nil)

	if _, err := sub.SendWithRetry(ctx, []byte{1}); err == nil {
		t.Fatal("expected context cancellation error")
	}
}
