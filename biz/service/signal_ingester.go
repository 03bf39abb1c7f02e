package service

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"kes-wallet/biz/dal/kafka"
	"kes-wallet/biz/dal/pg"
	"kes-wallet/biz/model"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type signalMatcher struct {
	side model.Side
	re   *regexp.Regexp
}

// 按顺序匹配，买入规则优先于卖出规则，第一个命中即返回
var signalMatchers = []signalMatcher{
	{model.SideBuy, regexp.MustCompile(`(?i)\b(?:buy|long|enter)\s+#?\$?([a-z0-9]+)`)},
	{model.SideBuy, regexp.MustCompile(`(?i)#?\$?([a-z0-9]+)\s+(?:buy|long|enter)\b`)},
	{model.SideBuy, regexp.MustCompile(`🟢\s*#?\$?([A-Za-z0-9]+)`)},
	{model.SideSell, regexp.MustCompile(`(?i)\b(?:sell|short|exit)\s+#?\$?([a-z0-9]+)`)},
	{model.SideSell, regexp.MustCompile(`(?i)#?\$?([a-z0-9]+)\s+(?:sell|short|exit)\b`)},
	{model.SideSell, regexp.MustCompile(`🔴\s*#?\$?([A-Za-z0-9]+)`)},
}

type SignalIngester struct {
	subs          *pg.SignalRepo
	copies        *pg.CopyRepo
	submitter     Submitter
	pool          *ants.Pool
	known         map[string]struct{}
	defaultAmount decimal.Decimal
}

// NewSignalIngester knownAssets 为空时不过滤资产
func NewSignalIngester(db *gorm.DB, submitter Submitter, pool *ants.Pool, knownAssets []string, defaultAmount decimal.Decimal) *SignalIngester {
	known := make(map[string]struct{}, len(knownAssets))
	for _, a := range knownAssets {
		known[strings.ToUpper(a)] = struct{}{}
	}
	if !defaultAmount.IsPositive() {
		defaultAmount = decimal.NewFromInt(100)
	}
	return &SignalIngester{
		subs:          pg.NewSignalRepo(db),
		copies:        pg.NewCopyRepo(db),
		submitter:     submitter,
		pool:          pool,
		known:         known,
		defaultAmount: defaultAmount,
	}
}

// Parse 无法识别的消息返回 nil
func (s *SignalIngester) Parse(raw, channelID string) *model.ParsedSignal {
	for _, m := range signalMatchers {
		for _, sub := range m.re.FindAllStringSubmatch(raw, -1) {
			symbol := strings.ToUpper(sub[1])
			if !s.isKnown(symbol) {
				continue
			}
			return &model.ParsedSignal{Side: m.side, AssetSymbol: symbol, ChannelID: channelID}
		}
	}
	return nil
}

func (s *SignalIngester) isKnown(symbol string) bool {
	if len(s.known) == 0 {
		return symbol != ""
	}
	_, ok := s.known[symbol]
	return ok
}

// Ingest 解析信号并为频道内开启自动执行的订阅者各下一笔单。
// 单个订阅者失败只记录在结果中。
func (s *SignalIngester) Ingest(ctx context.Context, raw, channelID string) (*model.ParsedSignal, []model.FanoutOutcome, error) {
	sig := s.Parse(raw, channelID)
	if sig == nil {
		hlog.CtxDebugf(ctx, "channel %s message not a signal", channelID)
		return nil, nil, nil
	}
	subs, err := s.subs.ListAutoExecute(ctx, channelID)
	if err != nil {
		return sig, nil, err
	}

	outcomes := make([]model.FanoutOutcome, len(subs))
	var wg sync.WaitGroup
	for i := range subs {
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			outcomes[i] = s.execute(ctx, sig, &subs[i])
		}
		if err := s.pool.Submit(task); err != nil {
			wg.Done()
			outcomes[i] = s.outcome(sig, subs[i].AccountID, model.OutcomeFailed, "signal pool unavailable", "")
		}
	}
	wg.Wait()

	for i := range outcomes {
		if err := s.copies.SaveOutcome(ctx, &outcomes[i]); err != nil {
			hlog.CtxErrorf(ctx, "save signal outcome channel=%s account=%s: %v", channelID, outcomes[i].AccountID, err)
		}
	}
	hlog.CtxInfof(ctx, "signal %s %s from %s fanned out to %d subscribers", sig.Side, sig.AssetSymbol, channelID, len(subs))
	return sig, outcomes, nil
}

func (s *SignalIngester) execute(ctx context.Context, sig *model.ParsedSignal, sub *model.SignalSubscription) model.FanoutOutcome {
	amount := sub.AmountCurrency
	if !amount.IsPositive() {
		amount = s.defaultAmount
	}
	trade, err := s.submitter.Submit(ctx, &SubmitRequest{
		AccountID:      sub.AccountID,
		Side:           sig.Side,
		Funding:        model.FundingWallet,
		AssetSymbol:    sig.AssetSymbol,
		AmountCurrency: amount,
		SourceType:     model.SourceSignal,
		SourceRef:      sig.ChannelID,
	})
	tradeID := ""
	if trade != nil {
		tradeID = trade.ID
	}
	if err != nil {
		return s.outcome(sig, sub.AccountID, model.OutcomeFailed, model.FailureReason(err), tradeID)
	}
	return s.outcome(sig, sub.AccountID, model.OutcomeExecuted, "", tradeID)
}

func (s *SignalIngester) outcome(sig *model.ParsedSignal, accountID string, status model.OutcomeStatus, reason, tradeID string) model.FanoutOutcome {
	return model.FanoutOutcome{
		ID:              uuid.NewString(),
		SourceType:      model.SourceSignal,
		SourceRef:       sig.ChannelID,
		AccountID:       accountID,
		Status:          status,
		Reason:          reason,
		FollowerTradeID: tradeID,
		CreatedAt:       time.Now(),
	}
}

func (s *SignalIngester) Subscribe(ctx context.Context, sub *model.SignalSubscription) error {
	if sub.ChannelID == "" || sub.AccountID == "" {
		return model.ErrInvalidRequest
	}
	if sub.AmountCurrency.IsNegative() {
		return model.ErrInvalidAmount
	}
	return s.subs.Upsert(ctx, sub)
}

// HandleRaw 供 Kafka raw_signals 消费者使用
func (s *SignalIngester) HandleRaw(ctx context.Context, msg *kafka.RawSignal) error {
	_, _, err := s.Ingest(ctx, msg.Message, msg.ChannelID)
	return err
}
