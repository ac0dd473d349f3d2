package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate         rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst        int           // API全般のバーストサイズ
	PartnerRequestRate  rate.Limit    // パートナー申請送信のレート（req/sec）。10/60
	PartnerRequestBurst int           // パートナー申請送信のバーストサイズ
	CleanupInterval     time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/account、パートナー申請 10 req/min/account。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 10)
}

// NewRateLimiterConfig はアカウントあたりの分間リクエスト数から設定を生成する。
func NewRateLimiterConfig(generalPerMinute, partnerRequestPerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:         perMinute(generalPerMinute),
		GeneralBurst:        generalPerMinute,
		PartnerRequestRate:  perMinute(partnerRequestPerMinute),
		PartnerRequestBurst: partnerRequestPerMinute,
		CleanupInterval:     5 * time.Minute,
	}
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// accountLimiter はアカウントごとのレートリミッターとアクセス時刻を保持する。
type accountLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterTier は1種類のレート制限についてアカウントごとのリミッターを管理する。
type limiterTier struct {
	name  string
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*accountLimiter
}

func newLimiterTier(name string, limit rate.Limit, burst int) *limiterTier {
	return &limiterTier{
		name:     name,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*accountLimiter),
	}
}

// allow はアカウントのリミッターを取得または作成し、トークンを1つ消費する。
func (t *limiterTier) allow(accountID string, now time.Time) bool {
	t.mu.Lock()
	al, ok := t.limiters[accountID]
	if !ok {
		al = &accountLimiter{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[accountID] = al
	}
	al.lastAccess = now
	t.mu.Unlock()

	return al.limiter.AllowN(now, 1)
}

func (t *limiterTier) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}

// evict は最終アクセスからttlを超えたエントリを削除する。
func (t *limiterTier) evict(now time.Time, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for accountID, al := range t.limiters {
		if now.Sub(al.lastAccess) > ttl {
			delete(t.limiters, accountID)
		}
	}
}

// middleware はこの種別のレート制限ミドルウェアを返す。
// リクエストコンテキストにアカウントIDが含まれている必要がある（認証ミドルウェアの後に配置）。
func (t *limiterTier) middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteUnauthorized(w)
				return
			}

			if !t.allow(accountID, time.Now()) {
				WriteTooManyRequests(w, retryAfter(t.limit))
				slog.Warn("rate limit exceeded",
					slog.String("account_id", accountID),
					slog.String("limit_type", t.name),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter はアカウントごとのレート制限を管理する。
// API全般とパートナー申請送信の2種類を独立に提供する。
type RateLimiter struct {
	config RateLimiterConfig

	general        *limiterTier
	partnerRequest *limiterTier

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:         config,
		general:        newLimiterTier("general", config.GeneralRate, config.GeneralBurst),
		partnerRequest: newLimiterTier("partner_request", config.PartnerRequestRate, config.PartnerRequestBurst),
		stopCh:         make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.general.middleware()
}

// PartnerRequestMiddleware はパートナー申請送信専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) PartnerRequestMiddleware() func(next http.Handler) http.Handler {
	return rl.partnerRequest.middleware()
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// PartnerRequestLimiterCount は現在管理されているパートナー申請リミッターのエントリ数を返す。
func (rl *RateLimiter) PartnerRequestLimiterCount() int {
	return rl.partnerRequest.count()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.evict(now, ttl)
	rl.partnerRequest.evict(now, ttl)
}

// retryAfter はトークンが1つ補充されるまでの推定時間を返す。
func retryAfter(r rate.Limit) time.Duration {
	if r <= 0 || r == rate.Inf {
		return time.Second
	}
	return time.Duration(float64(time.Second) / float64(r))
}
