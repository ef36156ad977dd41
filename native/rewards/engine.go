package rewards

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"

	"assetmarket/core/events"
	"assetmarket/core/types"
)

var (
	errNilState = errors.New("rewards engine: state not configured")

	// ErrUnauthorizedIssuer is returned when a mint is attempted by any
	// identity other than the configured reward issuer authority.
	ErrUnauthorizedIssuer = errors.New("rewards engine: caller is not the reward issuer")
)

// EventTypeRewardMinted is emitted once a reward credit has been minted.
const EventTypeRewardMinted = "rewards.minted"

type engineState interface {
	RewardConfig() (*Config, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	RewardTotalAccrued(addr []byte) (*big.Int, error)
	SetRewardTotalAccrued(addr []byte, amount *big.Int) error
}

type rewardEvent struct {
	evt *types.Event
}

func (e rewardEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e rewardEvent) Event() *types.Event { return e.evt }

// Engine mints reward credits to buyers on successful trades. Minting is
// authorized exclusively by the issuer authority configured via SetIssuer;
// no other identity can grow a reward balance.
type Engine struct {
	state   engineState
	emitter events.Emitter
	issuer  [20]byte
}

// NewEngine creates a rewards engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetIssuer configures the sole authority permitted to mint rewards.
func (e *Engine) SetIssuer(addr [20]byte) { e.issuer = addr }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(rewardEvent{evt: evt})
}

// Mint credits the recipient's reward balance for a trade executed at the
// supplied price and returns the minted amount. A zero quote (inactive rate,
// price below the minimum spend) succeeds without mutating state.
func (e *Engine) Mint(caller, to [20]byte, price *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.issuer == ([20]byte{}) || caller != e.issuer {
		return nil, ErrUnauthorizedIssuer
	}
	cfg, err := e.state.RewardConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reward := cfg.Quote(price)
	if reward.Sign() == 0 {
		return big.NewInt(0), nil
	}
	account, err := e.state.GetAccount(to[:])
	if err != nil {
		return nil, err
	}
	account = account.Normalize()
	account.RewardBalance = new(big.Int).Add(account.RewardBalance, reward)
	if err := e.state.PutAccount(to[:], account); err != nil {
		return nil, err
	}
	total, err := e.state.RewardTotalAccrued(to[:])
	if err != nil {
		return nil, err
	}
	if total == nil {
		total = big.NewInt(0)
	}
	if err := e.state.SetRewardTotalAccrued(to[:], new(big.Int).Add(total, reward)); err != nil {
		return nil, err
	}
	e.emit(&types.Event{Type: EventTypeRewardMinted, Attributes: map[string]string{
		"to":      hex.EncodeToString(to[:]),
		"amount":  reward.String(),
		"rateBps": strconv.FormatUint(uint64(cfg.RateBps), 10),
	}})
	return reward, nil
}
