package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"dex-engine/internal/config"
)

// Signer 对提交载荷进行签名，密钥以字节形式保存以便擦除。
type Signer struct {
	wallet []byte
	key    []byte
}

// NewSigner 从配置构造签名器，私钥必须为十六进制编码。
func NewSigner(cfg config.SignerConfig) (*Signer, error) {
	if cfg.WalletAddress == "" || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%w: 缺少钱包地址或私钥", ErrSignerUnavailable)
	}

	key, err := hex.DecodeString(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: 私钥必须为十六进制编码: %v", ErrSignerUnavailable, err)
	}

	return &Signer{
		wallet: []byte(cfg.WalletAddress),
		key:    key,
	}, nil
}

// Wallet 返回钱包地址。
func (s *Signer) Wallet() string {
	return string(s.wallet)
}

// Sign 返回载荷的 HMAC-SHA256 签名。
func (s *Signer) Sign(payload []byte) (string, error) {
	if s == nil || len(s.key) == 0 {
		return "", ErrSignerUnavailable
	}

	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// signSubmission 以固定字段顺序为提交载荷生成签名。
func signSubmission(s *Signer, spec TxSpec) (string, error) {
	if s == nil {
		return "", ErrSignerUnavailable
	}
	payload := fmt.Sprintf("%s|%s|%s|%.8f|%.8f|%s",
		spec.OrderID, spec.Pair, spec.Side, spec.Amount, spec.QuotePrice, spec.ClientRef,
	)
	return s.Sign([]byte(payload))
}

// Wipe 擦除内存中的密钥。
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	for i := range s.key {
		s.key[i] = 0
	}
	for i := range s.wallet {
		s.wallet[i] = 0
	}
}
