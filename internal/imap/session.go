// Package imap 封装与远端收件服务器的一次性会话：连接、登录、只读选择收件箱、
// 检索与拉取原始邮件。每次取回都新建会话，结束后立即拆除。
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"inboxlens/backend/internal/domain"
	"inboxlens/backend/internal/monitoring"
)

const inboxName = "INBOX"

// Options 会话参数
type Options struct {
	Host               string
	Port               int
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
	FetchTimeout       time.Duration
}

// DialFunc 建立到服务器的底层连接
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// Dialer 创建已登录的会话
type Dialer struct {
	opts    Options
	dial    DialFunc
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewDialer 创建使用隐式 TLS 的会话拨号器
func NewDialer(opts Options, logger *zap.Logger, metrics *monitoring.Metrics) *Dialer {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dialer{
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
	d.dial = d.dialTLS
	return d
}

// WithDialFunc 替换底层拨号方式
func (d *Dialer) WithDialFunc(dial DialFunc) *Dialer {
	d.dial = dial
	return d
}

// Address 返回服务器地址
func (d *Dialer) Address() string {
	return net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))
}

func (d *Dialer) dialTLS(ctx context.Context, address string) (net.Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			ServerName:         d.opts.Host,
			InsecureSkipVerify: d.opts.InsecureSkipVerify, // 仅测试环境开启
			MinVersion:         tls.VersionTLS12,
		},
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// Open 连接并登录，账号只使用本地部分（去掉 @ 之后的域名）。
//
// 连接与登录共享 ConnectTimeout，超时会强制关闭连接并返回 connect_timeout。
func (d *Dialer) Open(ctx context.Context, creds domain.Credentials) (*Session, error) {
	start := time.Now()
	connectCtx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
	defer cancel()

	address := d.Address()
	conn, err := d.dial(connectCtx, address)
	if err != nil {
		return nil, d.fail(classifyDialError(connectCtx, err))
	}

	client := imapclient.New(conn, &imapclient.Options{})
	stopClose := context.AfterFunc(connectCtx, func() {
		_ = client.Close()
	})

	loginErr := client.Login(LocalPart(creds.Account), creds.Secret).Wait()
	if !stopClose() {
		_ = client.Close()
		return nil, d.fail(domain.NewSessionError(domain.SessionConnectTimeout, connectCtx.Err()))
	}
	if loginErr != nil {
		_ = client.Close()
		return nil, d.fail(classifyLoginError(loginErr))
	}

	d.metrics.RecordIMAPPhase("connect", time.Since(start))
	d.logger.Debug("IMAP session opened",
		zap.String("address", address),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Session{
		client:       client,
		logger:       d.logger,
		fetchTimeout: d.opts.FetchTimeout,
	}, nil
}

func (d *Dialer) fail(err *domain.SessionError) error {
	d.metrics.RecordIMAPError(string(err.Kind))
	d.logger.Warn("IMAP session failed",
		zap.String("address", d.Address()),
		zap.String("kind", string(err.Kind)),
		zap.Error(err.Err),
	)
	return err
}

// RawMessage 服务器返回的一封原始邮件
type RawMessage struct {
	SeqNum       uint32
	MessageID    string
	InternalDate time.Time
	Body         []byte
}

// Session 已登录的会话，不可跨请求复用
type Session struct {
	client       *imapclient.Client
	logger       *zap.Logger
	fetchTimeout time.Duration
	closeOnce    sync.Once
}

// SelectInbox 以只读方式选择收件箱，返回邮件总数
func (s *Session) SelectInbox() (uint32, error) {
	data, err := s.client.Select(inboxName, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return 0, fmt.Errorf("select %s: %w", inboxName, err)
	}
	return data.NumMessages, nil
}

// SearchAll 返回收件箱中全部邮件的序号（服务器顺序）
func (s *Session) SearchAll() ([]uint32, error) {
	data, err := s.client.Search(&imapv2.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search all: %w", err)
	}
	return data.AllSeqNums(), nil
}

// FetchRaw 拉取指定序号的完整邮件（信封、结构、内部时间与全文）。
//
// 返回顺序与 seqNums 一致；单封邮件读取失败只记录日志。
func (s *Session) FetchRaw(seqNums []uint32) ([]RawMessage, error) {
	if len(seqNums) == 0 {
		return nil, nil
	}

	section := &imapv2.FetchItemBodySection{Peek: true}
	options := &imapv2.FetchOptions{
		Envelope:      true,
		InternalDate:  true,
		BodyStructure: &imapv2.FetchItemBodyStructure{},
		BodySection:   []*imapv2.FetchItemBodySection{section},
	}

	cmd := s.client.Fetch(imapv2.SeqSetNum(seqNums...), options)
	defer cmd.Close()

	bySeq := make(map[uint32]RawMessage, len(seqNums))
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			s.logger.Warn("Failed to collect fetched message", zap.Error(err))
			continue
		}

		raw := RawMessage{
			SeqNum:       buf.SeqNum,
			InternalDate: buf.InternalDate,
			Body:         buf.FindBodySection(section),
		}
		if buf.Envelope != nil {
			raw.MessageID = buf.Envelope.MessageID
		}
		bySeq[buf.SeqNum] = raw
	}

	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	ordered := make([]RawMessage, 0, len(bySeq))
	for _, seq := range seqNums {
		if raw, ok := bySeq[seq]; ok {
			ordered = append(ordered, raw)
		}
	}
	return ordered, nil
}

// Close 注销并关闭连接，可重复调用
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if logoutErr := s.client.Logout().Wait(); logoutErr != nil {
			s.logger.Debug("IMAP logout failed", zap.Error(logoutErr))
		}
		err = s.client.Close()
	})
	return err
}

// forceClose 不发送 LOGOUT 直接断开，用于超时拆除
func (s *Session) forceClose() {
	s.closeOnce.Do(func() {
		_ = s.client.Close()
	})
}

// LocalPart 返回账号 @ 之前的部分
func LocalPart(account string) string {
	account = strings.TrimSpace(account)
	if local, _, found := strings.Cut(account, "@"); found {
		return local
	}
	return account
}

// RecentWindow 将服务器顺序反转（最新在前）后取前 limit 个序号
func RecentWindow(seqNums []uint32, limit int) []uint32 {
	n := len(seqNums)
	if limit > 0 && limit < n {
		n = limit
	}

	window := make([]uint32, 0, n)
	for i := len(seqNums) - 1; i >= 0 && len(window) < n; i-- {
		window = append(window, seqNums[i])
	}
	return window
}

func classifyDialError(ctx context.Context, err error) *domain.SessionError {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr) && !dnsErr.IsTimeout:
		return domain.NewSessionError(domain.SessionHostNotFound, err)
	case ctx.Err() != nil || isTimeout(err):
		return domain.NewSessionError(domain.SessionConnectTimeout, err)
	default:
		return domain.NewSessionError(domain.SessionConnectFailed, err)
	}
}

func classifyLoginError(err error) *domain.SessionError {
	var imapErr *imapv2.Error
	if errors.As(err, &imapErr) {
		return domain.NewSessionError(domain.SessionAuthFailed, err)
	}
	if isTimeout(err) {
		return domain.NewSessionError(domain.SessionConnectTimeout, err)
	}
	return domain.NewSessionError(domain.SessionConnectFailed, err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}
