package provider

import (
	"sync"
	"time"
)

// 凭据退避参数
const (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 2 * time.Minute
)

// Credential 单个 API 凭据及其健康状态
type Credential struct {
	Key       string
	failures  int
	coolUntil time.Time
}

// CredentialPool 轮换凭据池
//
// Acquire 按轮转顺序返回下一个未处于冷却期的凭据；
// ReportFailure 记一次失败并按指数退避设置冷却期；
// Release 表示凭据成功完成了一次请求，清零失败计数。
type CredentialPool struct {
	mu     sync.Mutex
	creds  []*Credential
	cursor int
	now    func() time.Time
}

// NewCredentialPool 创建凭据池。
// keys 为空时退化为单个匿名凭据（本地 Ollama 无需鉴权）。
func NewCredentialPool(keys []string) *CredentialPool {
	p := &CredentialPool{now: time.Now}
	if len(keys) == 0 {
		p.creds = []*Credential{{}}
		return p
	}
	for _, k := range keys {
		p.creds = append(p.creds, &Credential{Key: k})
	}
	return p
}

// Acquire 获取下一个可用凭据，全部冷却时返回 ErrProviderExhausted
func (p *CredentialPool) Acquire() (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for i := 0; i < len(p.creds); i++ {
		c := p.creds[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.creds)
		if now.After(c.coolUntil) || now.Equal(c.coolUntil) {
			return c, nil
		}
	}
	return nil, ErrProviderExhausted
}

// ReportFailure 记录一次限流/超时失败，凭据进入指数退避冷却
func (p *CredentialPool) ReportFailure(c *Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c.failures++
	backoff := backoffBase << (c.failures - 1)
	if backoff > backoffMax || backoff <= 0 {
		backoff = backoffMax
	}
	c.coolUntil = p.now().Add(backoff)
}

// Release 凭据成功完成请求，清零失败计数
func (p *CredentialPool) Release(c *Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c.failures = 0
	c.coolUntil = time.Time{}
}

// Size 池中凭据总数
func (p *CredentialPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}
