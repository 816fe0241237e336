package agent

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"AgenC-Operator/internal/access"
	"AgenC-Operator/internal/ledger"
	"AgenC-Operator/internal/policy"
	"AgenC-Operator/internal/protocol"
	"AgenC-Operator/internal/submit"
	"AgenC-Operator/internal/wallet"
)

// scriptedChain 是可编排的账本桩：余额、任务账户数据与发送失败
// 序列都由测试脚本给定。
type scriptedChain struct {
	balance        uint64
	tokenBalances  map[string]uint64
	accounts       map[string][]byte
	sendErrs       []string
	sends          int
	blockhashCalls int
}

func (c *scriptedChain) GetBalance(ctx context.Context, address string) (uint64, error) {
	return c.balance, nil
}

func (c *scriptedChain) GetTokenAccountBalance(ctx context.Context, address string) (uint64, error) {
	balance, ok := c.tokenBalances[address]
	if !ok {
		return 0, errors.New("account not found")
	}
	return balance, nil
}

func (c *scriptedChain) GetAccountInfo(ctx context.Context, address string) ([]byte, error) {
	return c.accounts[address], nil
}

func (c *scriptedChain) GetLatestBlockhash(ctx context.Context) (ledger.Blockhash, error) {
	c.blockhashCalls++
	return ledger.Blockhash{Blockhash: protocol.Pubkey{7}.String(), LastValidBlockHeight: 100}, nil
}

func (c *scriptedChain) SendTransaction(ctx context.Context, signedTx []byte) (string, error) {
	idx := c.sends
	c.sends++
	if idx < len(c.sendErrs) && c.sendErrs[idx] != "" {
		return "", errors.New(c.sendErrs[idx])
	}
	return "sig-ok", nil
}

func (c *scriptedChain) GetSignatureStatus(ctx context.Context, signature string) (*ledger.SignatureStatus, error) {
	return &ledger.SignatureStatus{ConfirmationStatus: "finalized"}, nil
}

func (c *scriptedChain) GetProgramAccounts(ctx context.Context, programID string, filters []ledger.MemcmpFilter) ([]ledger.ProgramAccount, error) {
	var out []ledger.ProgramAccount
	for address, data := range c.accounts {
		if len(data) > protocol.TaskStatusOffset && len(filters) == 2 &&
			base58OfByte(data[protocol.TaskStatusOffset]) == filters[1].Bytes {
			out = append(out, ledger.ProgramAccount{Address: address, Data: data})
		}
	}
	return out, nil
}

// base58OfByte 对单字节做 base58 编码（0x00 -> "1"，其余为字母表直查）。
func base58OfByte(b byte) string {
	const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	if b == 0 {
		return "1"
	}
	var out []byte
	for v := int(b); v > 0; v /= 58 {
		out = append([]byte{alphabet[v%58]}, out...)
	}
	return string(out)
}

func testParams(t *testing.T) protocol.Params {
	t.Helper()
	p, err := protocol.NewParams(
		"EopUaCV2svxj9j4hd7KjbrWfdjkspmm2BCBe7jGpKzKZ",
		"9fhQBbumKEFuXtMBDw8AaQyAjCorLGJQiS3skWZdQyQD",
		"8i51XNNpGaKaj4G4nDdmQh95v4FKAxw8mhtaRoKd9tE8",
		6,
	)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	return p
}

func testSigner(t *testing.T) *wallet.Signer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	signer, err := wallet.NewSigner(ed25519.NewKeyFromSeed(seed))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return signer
}

func fastRetry() submit.RetryConfig {
	return submit.RetryConfig{
		MaxSendRetries:    3,
		MaxConfirmRetries: 3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		PollInterval:      time.Millisecond,
	}
}

// taskBytes 构造一份最小的任务账户数据。
func taskBytes(taskID uint64, creator protocol.Pubkey, state protocol.TaskState, rewardLamports, rewardTokens uint64) []byte {
	data := make([]byte, 212)
	copy(data[0:8], protocol.TaskDiscriminator[:])
	binary.LittleEndian.PutUint64(data[8:16], taskID)
	copy(data[16:48], creator.Bytes())
	data[protocol.TaskStatusOffset] = state.Byte()
	binary.LittleEndian.PutUint64(data[155:163], rewardLamports)
	binary.LittleEndian.PutUint64(data[163:171], 2_000_000_000)
	binary.LittleEndian.PutUint64(data[204:212], rewardTokens)
	return data
}

func newTestAgent(t *testing.T, chain *scriptedChain) (*Agent, *policy.Gate) {
	t.Helper()
	params := testParams(t)
	gate := policy.NewGate(policy.DefaultConfig(), nil)
	submitter := submit.NewSubmitter(chain, fastRetry(), nil)
	cache := access.NewCache(access.NewChecker(params, chain, nil), time.Minute, 16, nil)
	agent := New(params, chain, testSigner(t), submitter, gate, cache, nil, nil)
	agent.newID = func() string { return "intent-test" }
	return agent, gate
}

func TestExecuteGetBalance(t *testing.T) {
	agent, _ := newTestAgent(t, &scriptedChain{balance: 2_500_000_000})

	result := agent.Execute(context.Background(), Intent{Action: ActionGetBalance})
	if result.Status != StatusExecuted || !result.Success {
		t.Fatalf("status = %v, want executed", result.Status)
	}
	if result.Data["lamports"] != uint64(2_500_000_000) {
		t.Fatalf("lamports = %v", result.Data["lamports"])
	}
	if result.IntentID != "intent-test" {
		t.Fatalf("intent id = %q", result.IntentID)
	}
}

func TestExecuteGetAddress(t *testing.T) {
	agent, _ := newTestAgent(t, &scriptedChain{})

	result := agent.Execute(context.Background(), Intent{Action: ActionGetAddress})
	if result.Status != StatusExecuted {
		t.Fatalf("status = %v", result.Status)
	}
	if result.Data["address"] != agent.signer.Address() {
		t.Fatal("address mismatch")
	}
}

func TestUnknownActionFails(t *testing.T) {
	agent, _ := newTestAgent(t, &scriptedChain{})

	result := agent.Execute(context.Background(), Intent{Action: "fly_to_moon"})
	if result.Status != StatusFailed || result.Action != ActionUnknown {
		t.Fatalf("result = %+v", result)
	}
}

func TestExportKeyAlwaysDenied(t *testing.T) {
	chain := &scriptedChain{}
	agent, _ := newTestAgent(t, chain)

	result := agent.Execute(context.Background(), Intent{Action: ActionExportKey, Confirmed: true})
	if result.Status != StatusDenied {
		t.Fatalf("status = %v, want denied", result.Status)
	}
	if chain.sends != 0 {
		t.Fatal("no transaction may be sent for export_key")
	}
}

func TestCreateTaskAwaitsConfirmation(t *testing.T) {
	chain := &scriptedChain{balance: 10_000_000_000}
	agent, _ := newTestAgent(t, chain)

	result := agent.Execute(context.Background(), Intent{
		Action: ActionCreateTask,
		Params: map[string]any{"description": "review code", "reward_sol": 0.5},
	})
	if result.Status != StatusAwaitingConfirmation {
		t.Fatalf("status = %v, want awaiting_confirmation", result.Status)
	}
	if result.Confirmation != policy.ConfirmationVerbal {
		t.Fatalf("confirmation = %v, want verbal", result.Confirmation)
	}
	if chain.sends != 0 {
		t.Fatal("must not send before confirmation")
	}
}

func TestCreateTaskVerbalCancellation(t *testing.T) {
	agent, gate := newTestAgent(t, &scriptedChain{balance: 10_000_000_000})

	result := agent.Execute(context.Background(), Intent{
		Action:       ActionCreateTask,
		Params:       map[string]any{"description": "x", "reward_sol": 0.5},
		Confirmation: "no, cancel that",
	})
	if result.Status != StatusDenied {
		t.Fatalf("status = %v, want denied", result.Status)
	}
	if gate.SessionSpendingSOL() != 0 {
		t.Fatal("cancelled intent must not record spending")
	}
}

func TestCreateTaskRecordsSpendingAfterConfirm(t *testing.T) {
	chain := &scriptedChain{balance: 10_000_000_000}
	agent, gate := newTestAgent(t, chain)

	result := agent.Execute(context.Background(), Intent{
		Action:       ActionCreateTask,
		Params:       map[string]any{"description": "review code", "reward_sol": 0.5},
		Confirmation: "yes, do it",
	})
	if result.Status != StatusExecuted || !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Signature != "sig-ok" {
		t.Fatalf("signature = %q", result.Signature)
	}
	if got := gate.SessionSpendingSOL(); got != 0.5 {
		t.Fatalf("session spending = %v, want 0.5", got)
	}
}

func TestCreateTaskPermanentFailureSkipsSpending(t *testing.T) {
	chain := &scriptedChain{
		balance:  10_000_000_000,
		sendErrs: []string{"insufficient funds for rent"},
	}
	agent, gate := newTestAgent(t, chain)

	result := agent.Execute(context.Background(), Intent{
		Action:       ActionCreateTask,
		Params:       map[string]any{"description": "x", "reward_sol": 0.5},
		Confirmation: "yes",
	})
	if result.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", result.Status)
	}
	if gate.SessionSpendingSOL() != 0 {
		t.Fatal("failed send must not record spending")
	}
}

func TestCreateTaskInsufficientBalance(t *testing.T) {
	chain := &scriptedChain{balance: 100_000_000} // 0.1 SOL
	agent, _ := newTestAgent(t, chain)

	result := agent.Execute(context.Background(), Intent{
		Action:       ActionCreateTask,
		Params:       map[string]any{"description": "x", "reward_sol": 0.5},
		Confirmation: "yes",
	})
	if result.Status != StatusFailed || !strings.Contains(result.Message, "余额不足") {
		t.Fatalf("result = %+v", result)
	}
	if chain.sends != 0 {
		t.Fatal("must not send with insufficient balance")
	}
}

func TestBlockhashExpiryRefreshesOnce(t *testing.T) {
	chain := &scriptedChain{
		balance:  10_000_000_000,
		sendErrs: []string{"Blockhash not found"},
	}
	agent, _ := newTestAgent(t, chain)

	result := agent.Execute(context.Background(), Intent{
		Action:       ActionCreateTask,
		Params:       map[string]any{"description": "x", "reward_sol": 0.5},
		Confirmation: "yes",
	})
	if result.Status != StatusExecuted {
		t.Fatalf("result = %+v", result)
	}
	if chain.blockhashCalls != 2 {
		t.Fatalf("blockhash fetches = %d, want 2 (one refresh)", chain.blockhashCalls)
	}
	if chain.sends != 2 {
		t.Fatalf("sends = %d, want 2", chain.sends)
	}
}

func TestClaimTaskRejectsNonOpen(t *testing.T) {
	params := testParams(t)
	creator := protocol.Pubkey{9}
	taskID := uint64(42)
	taskPDA, _, err := params.TaskAddress(taskID)
	if err != nil {
		t.Fatalf("TaskAddress: %v", err)
	}
	chain := &scriptedChain{accounts: map[string][]byte{
		taskPDA.String(): taskBytes(taskID, creator, protocol.TaskInProgress, 1_000_000_000, 0),
	}}
	agent, _ := newTestAgent(t, chain)

	result := agent.Execute(context.Background(), Intent{
		Action:       ActionClaimTask,
		Params:       map[string]any{"task_id": float64(taskID)},
		Confirmation: "confirm",
	})
	if result.Status != StatusFailed || !strings.Contains(result.Message, "无法认领") {
		t.Fatalf("result = %+v", result)
	}
}

func TestClaimTaskMissing(t *testing.T) {
	agent, _ := newTestAgent(t, &scriptedChain{})

	result := agent.Execute(context.Background(), Intent{
		Action:       ActionClaimTask,
		Params:       map[string]any{"task_id": 42},
		Confirmation: "yes",
	})
	if result.Status != StatusFailed || !strings.Contains(result.Message, "不存在") {
		t.Fatalf("result = %+v", result)
	}
}

func TestClaimTaskConfirmed(t *testing.T) {
	params := testParams(t)
	taskID := uint64(7)
	taskPDA, _, _ := params.TaskAddress(taskID)
	chain := &scriptedChain{accounts: map[string][]byte{
		taskPDA.String(): taskBytes(taskID, protocol.Pubkey{9}, protocol.TaskOpen, 1_000_000_000, 0),
	}}
	agent, gate := newTestAgent(t, chain)

	result := agent.Execute(context.Background(), Intent{
		Action:       ActionClaimTask,
		Params:       map[string]any{"task_id": taskID},
		Confirmation: "proceed",
	})
	if result.Status != StatusExecuted || result.Signature != "sig-ok" {
		t.Fatalf("result = %+v", result)
	}
	// 认领不是消费类动作。
	if gate.SessionSpendingSOL() != 0 {
		t.Fatal("claim must not record spending")
	}
}

func TestCompleteTaskRequiresInProgress(t *testing.T) {
	params := testParams(t)
	taskID := uint64(8)
	taskPDA, _, _ := params.TaskAddress(taskID)
	chain := &scriptedChain{accounts: map[string][]byte{
		taskPDA.String(): taskBytes(taskID, protocol.Pubkey{9}, protocol.TaskOpen, 1_000_000_000, 0),
	}}
	agent, _ := newTestAgent(t, chain)

	result := agent.Execute(context.Background(), Intent{
		Action:       ActionCompleteTask,
		Params:       map[string]any{"task_id": taskID, "result": "done"},
		Confirmation: "yes",
	})
	if result.Status != StatusFailed || !strings.Contains(result.Message, "无法提交完成") {
		t.Fatalf("result = %+v", result)
	}
}

func TestCompleteTaskConfirmed(t *testing.T) {
	params := testParams(t)
	taskID := uint64(8)
	taskPDA, _, _ := params.TaskAddress(taskID)
	chain := &scriptedChain{accounts: map[string][]byte{
		taskPDA.String(): taskBytes(taskID, protocol.Pubkey{9}, protocol.TaskInProgress, 1_000_000_000, 500),
	}}
	agent, _ := newTestAgent(t, chain)

	result := agent.Execute(context.Background(), Intent{
		Action:       ActionCompleteTask,
		Params:       map[string]any{"task_id": taskID, "result": "all tests passing"},
		Confirmation: "approved",
	})
	if result.Status != StatusExecuted {
		t.Fatalf("result = %+v", result)
	}
}

func TestCancelTaskRequiresCreator(t *testing.T) {
	params := testParams(t)
	taskID := uint64(9)
	taskPDA, _, _ := params.TaskAddress(taskID)
	chain := &scriptedChain{accounts: map[string][]byte{
		taskPDA.String(): taskBytes(taskID, protocol.Pubkey{9}, protocol.TaskOpen, 1_000_000_000, 0),
	}}
	agent, _ := newTestAgent(t, chain)

	result := agent.Execute(context.Background(), Intent{
		Action:       ActionCancelTask,
		Params:       map[string]any{"task_id": taskID},
		Confirmation: "confirm cancel_task",
	})
	if result.Status != StatusDenied || !strings.Contains(result.Message, "创建者") {
		t.Fatalf("result = %+v", result)
	}
}

func TestCancelTaskTypedConfirmation(t *testing.T) {
	params := testParams(t)
	taskID := uint64(10)
	taskPDA, _, _ := params.TaskAddress(taskID)
	signer := testSigner(t)
	chain := &scriptedChain{accounts: map[string][]byte{
		taskPDA.String(): taskBytes(taskID, signer.Pubkey(), protocol.TaskOpen, 1_000_000_000, 0),
	}}
	agent, _ := newTestAgent(t, chain)

	// 口头应答不满足键入确认。
	result := agent.Execute(context.Background(), Intent{
		Action:       ActionCancelTask,
		Params:       map[string]any{"task_id": taskID},
		Confirmation: "yes",
	})
	if result.Status != StatusAwaitingConfirmation || result.Confirmation != policy.ConfirmationTyped {
		t.Fatalf("result = %+v", result)
	}

	result = agent.Execute(context.Background(), Intent{
		Action:       ActionCancelTask,
		Params:       map[string]any{"task_id": taskID},
		Confirmation: "Confirm cancel_task",
	})
	if result.Status != StatusExecuted {
		t.Fatalf("result = %+v", result)
	}
}

func TestSwapGatedByAccessTier(t *testing.T) {
	// 空的代币余额映射：钱包没有访问代币，档位为 none。
	agent, _ := newTestAgent(t, &scriptedChain{tokenBalances: map[string]uint64{}})

	result := agent.Execute(context.Background(), Intent{
		Action:       ActionSwapTokens,
		Params:       map[string]any{"amount_sol": 0.01},
		Confirmation: "yes",
	})
	if result.Status != StatusDenied {
		t.Fatalf("status = %v, want denied for tier none", result.Status)
	}
}

func TestListOpenTasks(t *testing.T) {
	params := testParams(t)
	taskID := uint64(11)
	taskPDA, _, _ := params.TaskAddress(taskID)
	chain := &scriptedChain{accounts: map[string][]byte{
		taskPDA.String(): taskBytes(taskID, protocol.Pubkey{9}, protocol.TaskOpen, 3_000_000_000, 0),
	}}
	agent, _ := newTestAgent(t, chain)

	result := agent.Execute(context.Background(), Intent{Action: ActionListOpenTasks})
	if result.Status != StatusExecuted {
		t.Fatalf("result = %+v", result)
	}
	if result.Data["count"] != 1 {
		t.Fatalf("count = %v, want 1", result.Data["count"])
	}
}

func TestHelp(t *testing.T) {
	agent, _ := newTestAgent(t, &scriptedChain{})

	result := agent.Execute(context.Background(), Intent{Action: ActionHelp})
	if result.Status != StatusExecuted || !strings.Contains(result.Message, "create_task") {
		t.Fatalf("result = %+v", result)
	}
}

func TestParseAction(t *testing.T) {
	if ParseAction(" Create_Task ") != ActionCreateTask {
		t.Fatal("case and whitespace must be normalised")
	}
	if ParseAction("rm -rf") != ActionUnknown {
		t.Fatal("unknown input must map to unknown")
	}
}
