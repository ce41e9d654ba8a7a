package orchestrator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/speedrun-hq/vault-depositor/pkg/contracts"
	"github.com/speedrun-hq/vault-depositor/pkg/intent"
	"github.com/speedrun-hq/vault-depositor/pkg/logger"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/speedrun-hq/vault-depositor/pkg/nonce"
	"github.com/speedrun-hq/vault-depositor/pkg/pending"
	"github.com/speedrun-hq/vault-depositor/pkg/poller"
	"github.com/speedrun-hq/vault-depositor/pkg/txstate"
	"github.com/speedrun-hq/vault-depositor/pkg/wallet"
	"github.com/stretchr/testify/require"
)

const (
	srcChain  = 1
	destChain = 8453
)

var (
	usdcBase    = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	usdtMainnet = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	routerAddr  = common.HexToAddress("0x4444444444444444444444444444444444444444")
	vaultAddr   = common.HexToAddress("0x5555555555555555555555555555555555555555")
	diamondAddr = common.HexToAddress("0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE")

	testVault = models.VaultConfig{
		ID:            "usdc-base",
		Name:          "USDC Base",
		Address:       vaultAddr,
		ChainID:       destChain,
		Asset:         usdcBase,
		AssetDecimals: 6,
		Router:        routerAddr,
	}
)

type sentTx struct {
	ChainID int
	To      common.Address
	Method  string
	Hash    common.Hash
}

type deposit struct {
	Intent models.DepositIntent
	Hash   common.Hash
}

// fakeChain is an in-memory multi-chain wallet. Router, ERC20 and vault calls are
// decoded with pkg/contracts and applied to simple balance maps.
type fakeChain struct {
	mu  sync.Mutex
	key *ecdsa.PrivateKey

	connected   int
	balances    map[string]*big.Int // chain/token/owner
	allowances  map[string]*big.Int // chain/token/owner/spender
	nonces      map[string]*big.Int // chain/user
	capacity    map[common.Address]*big.Int
	nonceReads  int
	signatures  int
	bumpOnRead  map[int]bool
	rejectSign  bool
	rejectSends bool

	// onRoute runs for transactions that are neither approvals nor deposits. It is
	// called with mu held and must use the *Locked helpers.
	onRoute func(f *fakeChain, chainID int, to common.Address)

	sent     []sentTx
	approved []*big.Int
	deposits []deposit
	receipts map[common.Hash]*types.Receipt
	counter  int64
}

var _ wallet.Wallet = (*fakeChain)(nil)

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeChain{
		key:        key,
		connected:  destChain,
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
		nonces:     make(map[string]*big.Int),
		capacity:   map[common.Address]*big.Int{vaultAddr: big.NewInt(1_000_000_000_000)},
		bumpOnRead: make(map[int]bool),
		receipts:   make(map[common.Hash]*types.Receipt),
	}
}

func balanceKey(chainID int, token, owner common.Address) string {
	return fmt.Sprintf("%d/%s/%s", chainID, token.Hex(), owner.Hex())
}

func allowanceKey(chainID int, token, owner, spender common.Address) string {
	return fmt.Sprintf("%d/%s/%s/%s", chainID, token.Hex(), owner.Hex(), spender.Hex())
}

func nonceKey(chainID int, user common.Address) string {
	return fmt.Sprintf("%d/%s", chainID, user.Hex())
}

func valueOf(m map[string]*big.Int, key string) *big.Int {
	if v, ok := m[key]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (f *fakeChain) creditLocked(chainID int, token, owner common.Address, amount int64) {
	key := balanceKey(chainID, token, owner)
	f.balances[key] = new(big.Int).Add(valueOf(f.balances, key), big.NewInt(amount))
}

func (f *fakeChain) setBalance(chainID int, token, owner common.Address, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[balanceKey(chainID, token, owner)] = big.NewInt(amount)
}

func (f *fakeChain) setAllowance(chainID int, token, spender common.Address, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowances[allowanceKey(chainID, token, f.Address(), spender)] = big.NewInt(amount)
}

func (f *fakeChain) setCapacity(amount int64) {
	f.setVaultCapacity(vaultAddr, amount)
}

func (f *fakeChain) setVaultCapacity(vault common.Address, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capacity[vault] = big.NewInt(amount)
}

func (f *fakeChain) bumpNonceOnRead(reads ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range reads {
		f.bumpOnRead[r] = true
	}
}

func (f *fakeChain) balance(chainID int, token common.Address) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return valueOf(f.balances, balanceKey(chainID, token, f.Address()))
}

func (f *fakeChain) routerNonce(chainID int) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return valueOf(f.nonces, nonceKey(chainID, f.Address()))
}

func (f *fakeChain) setRouterNonce(chainID int, nonce int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonces[nonceKey(chainID, f.Address())] = big.NewInt(nonce)
}

func (f *fakeChain) signatureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signatures
}

func (f *fakeChain) sentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, tx := range f.sent {
		out = append(out, tx.Method)
	}
	return out
}

func (f *fakeChain) approvals() []*big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*big.Int(nil), f.approved...)
}

func (f *fakeChain) madeDeposits() []deposit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deposit(nil), f.deposits...)
}

func (f *fakeChain) Address() common.Address {
	return crypto.PubkeyToAddress(f.key.PublicKey)
}

func (f *fakeChain) ConnectedChainID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChain) SwitchChain(_ context.Context, chainID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = chainID
	return nil
}

func (f *fakeChain) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	f.mu.Lock()
	reject := f.rejectSign
	if !reject {
		f.signatures++
	}
	f.mu.Unlock()
	if reject {
		return nil, wallet.ErrUserRejected
	}
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, f.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (f *fakeChain) ReadContract(_ context.Context, chainID int, to common.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call, err := contracts.DecodeCall(data)
	if err != nil {
		return nil, err
	}
	switch call.Method {
	case "nonces":
		f.nonceReads++
		key := nonceKey(chainID, call.Args[0].(common.Address))
		if f.bumpOnRead[f.nonceReads] {
			f.nonces[key] = new(big.Int).Add(valueOf(f.nonces, key), big.NewInt(1))
		}
		return contracts.EncodeUint256(valueOf(f.nonces, key)), nil
	case "balanceOf":
		return contracts.EncodeUint256(valueOf(f.balances, balanceKey(chainID, to, call.Args[0].(common.Address)))), nil
	case "allowance":
		owner := call.Args[0].(common.Address)
		spender := call.Args[1].(common.Address)
		return contracts.EncodeUint256(valueOf(f.allowances, allowanceKey(chainID, to, owner, spender))), nil
	case "decimals":
		return contracts.EncodeUint256(big.NewInt(6)), nil
	case "maxDeposit":
		if c, ok := f.capacity[to]; ok {
			return contracts.EncodeUint256(c), nil
		}
		return contracts.EncodeUint256(big.NewInt(0)), nil
	}
	return nil, fmt.Errorf("unexpected read %s", call.Method)
}

func (f *fakeChain) SendTransaction(_ context.Context, chainID int, to common.Address, data []byte, _ *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejectSends {
		return common.Hash{}, wallet.ErrUserRejected
	}

	f.counter++
	hash := crypto.Keccak256Hash(big.NewInt(f.counter).Bytes())
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash, GasUsed: 21000}

	method := "route"
	if call, err := contracts.DecodeCall(data); err == nil {
		method = call.Method
	}

	switch method {
	case "approve":
		call, _ := contracts.DecodeCall(data)
		spender := call.Args[0].(common.Address)
		amount := call.Args[1].(*big.Int)
		f.allowances[allowanceKey(chainID, to, f.Address(), spender)] = new(big.Int).Set(amount)
		f.approved = append(f.approved, new(big.Int).Set(amount))
	case "depositWithIntent":
		if err := f.depositLocked(chainID, to, data, receipt); err != nil {
			receipt.Status = types.ReceiptStatusFailed
		}
	default:
		if f.onRoute != nil {
			f.onRoute(f, chainID, to)
		}
	}

	f.sent = append(f.sent, sentTx{ChainID: chainID, To: to, Method: method, Hash: hash})
	f.receipts[hash] = receipt
	return hash, nil
}

// depositLocked mimics the router: signature, nonce, allowance and balance checks
func (f *fakeChain) depositLocked(chainID int, router common.Address, data []byte, receipt *types.Receipt) error {
	di, sig, err := contracts.UnpackDepositWithIntent(data)
	if err != nil {
		return err
	}
	signed := &models.SignedIntent{Intent: di, Signature: sig, Router: router, ChainID: chainID}
	if err := intent.Verify(signed); err != nil {
		return err
	}

	nKey := nonceKey(chainID, di.User)
	if valueOf(f.nonces, nKey).Cmp(di.Nonce) != 0 {
		return errors.New("invalid nonce")
	}
	aKey := allowanceKey(chainID, di.Asset, di.User, router)
	if valueOf(f.allowances, aKey).Cmp(di.Amount) < 0 {
		return errors.New("insufficient allowance")
	}
	bKey := balanceKey(chainID, di.Asset, di.User)
	if valueOf(f.balances, bKey).Cmp(di.Amount) < 0 {
		return errors.New("insufficient balance")
	}

	f.allowances[aKey] = new(big.Int).Sub(valueOf(f.allowances, aKey), di.Amount)
	f.balances[bKey] = new(big.Int).Sub(valueOf(f.balances, bKey), di.Amount)
	f.nonces[nKey] = new(big.Int).Add(di.Nonce, big.NewInt(1))

	l, err := contracts.PackIntentDepositedLog(router, di.User, di.Vault, di.Amount, di.Amount, di.Nonce)
	if err != nil {
		return err
	}
	receipt.Logs = []*types.Log{l}
	f.deposits = append(f.deposits, deposit{Intent: di, Hash: receipt.TxHash})
	return nil
}

func (f *fakeChain) WaitForReceipt(_ context.Context, _ int, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", hash.Hex())
	}
	return receipt, nil
}

// fakeQuotes serves fixed quotes and a scripted sequence of bridge statuses
type fakeQuotes struct {
	mu          sync.Mutex
	quote       *models.Quote
	quoteErr    error
	atomic      *models.Quote
	atomicErr   error
	quoteCalls  int
	calls       []models.ContractCall
	statuses    []*models.TransferStatus
	statusCalls int
}

func (q *fakeQuotes) GetQuote(_ context.Context, _ models.QuoteRequest) (*models.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.quoteCalls++
	return q.quote, q.quoteErr
}

func (q *fakeQuotes) GetQuoteWithContractCall(_ context.Context, _ models.QuoteRequest, call models.ContractCall) (*models.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, call)
	return q.atomic, q.atomicErr
}

// GetTransferStatus returns the scripted statuses in order and repeats the last one
func (q *fakeQuotes) GetTransferStatus(_ context.Context, _ string, _, _ int, _ common.Hash) (*models.TransferStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.statuses) == 0 {
		return &models.TransferStatus{Status: models.TransferPending}, nil
	}
	idx := q.statusCalls
	if idx >= len(q.statuses) {
		idx = len(q.statuses) - 1
	}
	q.statusCalls++
	status := *q.statuses[idx]
	return &status, nil
}

func (q *fakeQuotes) setStatuses(statuses ...*models.TransferStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statuses = statuses
	q.statusCalls = 0
}

type harness struct {
	chain   *fakeChain
	quotes  *fakeQuotes
	poller  *poller.Poller
	store   *txstate.MemoryStore
	pending *pending.MemoryStore
	orch    *Orchestrator
}

func newHarness(t *testing.T, pollTimeout time.Duration) *harness {
	t.Helper()
	chain := newFakeChain(t)
	quotes := &fakeQuotes{}
	log := &logger.EmptyLogger{}
	p := poller.New(quotes, 5*time.Millisecond, pollTimeout, 0, log)
	t.Cleanup(p.Stop)

	h := &harness{
		chain:   chain,
		quotes:  quotes,
		poller:  p,
		store:   txstate.NewMemoryStore(time.Hour),
		pending: pending.NewMemoryStore(),
	}
	h.orch = New(Dependencies{
		Wallet:  chain,
		Quotes:  quotes,
		Poller:  p,
		Nonces:  nonce.NewSource(chain, 0, log),
		Store:   h.store,
		Pending: h.pending,
		Logger:  log,
	}, DefaultOptions())
	return h
}

func (h *harness) record(t *testing.T, txID string) *models.TransactionState {
	t.Helper()
	rec, err := h.store.Get(context.Background(), txID)
	require.NoError(t, err)
	return rec
}

// crossChainQuote bridges 1 USDT from mainnet into Base USDC
func crossChainQuote() *models.Quote {
	return &models.Quote{
		ID:              "quote-1",
		Tool:            "stargate",
		FromChain:       srcChain,
		ToChain:         destChain,
		FromToken:       usdtMainnet,
		ToToken:         usdcBase,
		FromDecimals:    6,
		ToDecimals:      6,
		FromAmount:      big.NewInt(1_000_000),
		ToAmount:        big.NewInt(990_000),
		ToAmountMin:     big.NewInt(980_000),
		ApprovalAddress: diamondAddr,
		Transaction: &models.TransactionRequest{
			ChainID: srcChain,
			To:      diamondAddr,
			Data:    []byte{0xde, 0xad, 0xbe, 0xef},
		},
	}
}

func statusOf(status, substatus string) *models.TransferStatus {
	return &models.TransferStatus{Status: status, Substatus: substatus}
}
