package jwt

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"inboxlens/backend/internal/domain"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
)

// sealInfo HKDF 派生凭据加密密钥时使用的上下文标识
const sealInfo = "inboxlens credential seal v1"

// Claims JWT 自定义声明，邮箱凭据以密文形式携带
type Claims struct {
	Account string `json:"account"`
	Sealed  string `json:"sealed"`
	jwt.RegisteredClaims
}

// Token 签发给客户端的访问令牌
type Token struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"` // 秒
}

// Manager JWT 管理器
type Manager struct {
	secret []byte
	issuer string
	expiry time.Duration
	aead   cipher.AEAD
	now    func() time.Time
}

// NewManager 创建 JWT 管理器，凭据加密密钥由签名密钥经 HKDF 派生
func NewManager(secret, issuer string, expiry time.Duration) (*Manager, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("derive seal key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create seal cipher: %w", err)
	}

	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
		aead:   aead,
		now:    time.Now,
	}, nil
}

// Issue 为已验证的邮箱凭据签发访问令牌
func (m *Manager) Issue(creds domain.Credentials) (*Token, error) {
	sealed, err := m.seal(creds)
	if err != nil {
		return nil, err
	}

	now := m.now()
	claims := Claims{
		Account: creds.Account,
		Sealed:  sealed,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   creds.Account,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return &Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(m.expiry.Seconds()),
	}, nil
}

// ValidateToken 验证令牌并返回声明
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithTimeFunc(m.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Credentials 验证令牌并解出邮箱凭据
func (m *Manager) Credentials(tokenString string) (domain.Credentials, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return domain.Credentials{}, err
	}

	secret, err := m.open(claims.Account, claims.Sealed)
	if err != nil {
		return domain.Credentials{}, ErrInvalidToken
	}
	return domain.Credentials{Account: claims.Account, Secret: secret}, nil
}

// seal 加密凭据，账号作为附加数据绑定到密文
func (m *Manager) seal(creds domain.Credentials) (string, error) {
	nonce := make([]byte, m.aead.NonceSize(), m.aead.NonceSize()+len(creds.Secret)+m.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := m.aead.Seal(nonce, nonce, []byte(creds.Secret), []byte(creds.Account))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (m *Manager) open(account, sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	if len(raw) < m.aead.NonceSize() {
		return "", errors.New("sealed credential too short")
	}
	nonce, ciphertext := raw[:m.aead.NonceSize()], raw[m.aead.NonceSize():]
	plain, err := m.aead.Open(nil, nonce, ciphertext, []byte(account))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
