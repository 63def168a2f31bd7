package entity

import (
	"crypto/sha256"
	"encoding/hex"
)

// Tier 用户等级
type Tier string

const (
	TierGuest Tier = "guest"
	TierFree  Tier = "free"
	TierPro   Tier = "pro"
)

// ParseTier 解析等级，未知值按 free 处理
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierGuest, TierPro:
		return Tier(s)
	default:
		return TierFree
	}
}

// Identity 单次请求的调用方身份，不持久化
type Identity struct {
	Kind Tier
	ID   string
	// Key 配额计数使用的身份键
	Key string
}

// NewUserIdentity 已登录用户身份
func NewUserIdentity(userID string, tier Tier) Identity {
	if tier == TierGuest {
		tier = TierFree
	}
	return Identity{Kind: tier, ID: userID, Key: "user:" + userID}
}

// NewGuestIdentity 访客身份，计数键绑定访客 token
func NewGuestIdentity(guestID, token string) Identity {
	sum := sha256.Sum256([]byte(token))
	return Identity{Kind: TierGuest, ID: guestID, Key: "guest:" + hex.EncodeToString(sum[:8])}
}

// IsGuest 是否访客
func (i Identity) IsGuest() bool {
	return i.Kind == TierGuest
}
