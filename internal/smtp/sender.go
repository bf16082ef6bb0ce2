// Package smtp 以登录账号的身份通过远端服务器发送邮件（隐式 TLS + AUTH PLAIN）。
// 失败按认证、连接、超时、域名解析与收件人拒绝分类，不自动重试。
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"inboxlens/backend/internal/domain"
	"inboxlens/backend/internal/monitoring"
)

// ErrSendThrottled 外发会话过多
var ErrSendThrottled = errors.New("too many outbound sessions, try again later")

// Options 发信参数
type Options struct {
	Host               string
	Port               int
	Timeout            time.Duration
	InsecureSkipVerify bool
	MaxConcurrent      int
	MaxPerSecond       int
}

// DialFunc 建立到服务器的底层连接
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// Sender 外发邮件
type Sender struct {
	opts    Options
	dial    DialFunc
	limiter *ConnectionLimiter
	logger  *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewSender 创建发信器
func NewSender(opts Options, logger *zap.Logger, metrics *monitoring.Metrics) *Sender {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.MaxPerSecond <= 0 {
		opts.MaxPerSecond = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Sender{
		opts:    opts,
		limiter: NewConnectionLimiter(opts.MaxConcurrent, opts.MaxPerSecond),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
	s.dial = s.dialTLS
	return s
}

// WithDialFunc 替换底层拨号方式
func (s *Sender) WithDialFunc(dial DialFunc) *Sender {
	s.dial = dial
	return s
}

// Address 返回服务器地址
func (s *Sender) Address() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

func (s *Sender) dialTLS(ctx context.Context, address string) (net.Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// Send 登录并发送一封邮件，发件人为登录账号
func (s *Sender) Send(ctx context.Context, creds domain.Credentials, out domain.OutgoingMail) error {
	if !s.limiter.Acquire() {
		return ErrSendThrottled
	}
	defer s.limiter.Release()

	msg, err := BuildMessage(creds.Account, out, s.now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	conn, err := s.dial(ctx, s.Address())
	if err != nil {
		return s.fail(classifyDialError(ctx, err))
	}
	stopClose := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stopClose()

	client := gosmtp.NewClient(conn)
	defer client.Close()

	if err := client.Auth(sasl.NewPlainClient("", creds.Account, creds.Secret)); err != nil {
		return s.fail(classifySessionError(ctx, err, phaseAuth))
	}
	if err := client.SendMail(creds.Account, []string{out.To}, bytes.NewReader(msg)); err != nil {
		return s.fail(classifySessionError(ctx, err, phaseSend))
	}
	if err := client.Quit(); err != nil {
		s.logger.Debug("SMTP quit failed", zap.Error(err))
	}

	s.metrics.RecordMailSent()
	return nil
}

func (s *Sender) fail(err *domain.SessionError) error {
	s.metrics.RecordSendFailure(string(err.Kind))
	s.logger.Warn("SMTP send failed",
		zap.String("address", s.Address()),
		zap.String("kind", string(err.Kind)),
		zap.Error(err.Err),
	)
	return err
}

type sessionPhase int

const (
	phaseAuth sessionPhase = iota
	phaseSend
)

func classifyDialError(ctx context.Context, err error) *domain.SessionError {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr) && !dnsErr.IsTimeout:
		return domain.NewSessionError(domain.SessionHostNotFound, err)
	case ctx.Err() != nil || isTimeout(err):
		return domain.NewSessionError(domain.SessionSendTimeout, err)
	default:
		return domain.NewSessionError(domain.SessionConnectFailed, err)
	}
}

func classifySessionError(ctx context.Context, err error, phase sessionPhase) *domain.SessionError {
	if ctx.Err() != nil || isTimeout(err) {
		return domain.NewSessionError(domain.SessionSendTimeout, err)
	}

	var smtpErr *gosmtp.SMTPError
	if !errors.As(err, &smtpErr) {
		return domain.NewSessionError(domain.SessionConnectFailed, err)
	}

	switch {
	case phase == phaseAuth || smtpErr.Code == 530 || smtpErr.Code == 535:
		return domain.NewSessionError(domain.SessionAuthFailed, err)
	case smtpErr.Code >= 550 && smtpErr.Code <= 553:
		return domain.NewSessionError(domain.SessionRecipientRejected, err)
	default:
		return domain.NewSessionError(domain.SessionProtocol, err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}
