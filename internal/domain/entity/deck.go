package entity

import (
	"strings"
	"time"
)

// 单卡构筑赛制
var singletonFormats = map[string]bool{
	"commander":   true,
	"edh":         true,
	"brawl":       true,
	"oathbreaker": true,
}

// IsSingletonFormat 是否单卡赛制
func IsSingletonFormat(format string) bool {
	return singletonFormats[strings.ToLower(strings.TrimSpace(format))]
}

// Deck 套牌
type Deck struct {
	ID            string      `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OwnerID       string      `json:"owner_id" gorm:"type:varchar(64);index;not null"`
	Name          string      `json:"name" gorm:"type:varchar(128);not null"`
	Format        string      `json:"format" gorm:"type:varchar(32);not null;default:'commander'"`
	Commander     string      `json:"commander,omitempty" gorm:"type:varchar(160)"`
	ColorIdentity string      `json:"color_identity,omitempty" gorm:"type:varchar(8)"`
	Cards         []*DeckCard `json:"cards,omitempty" gorm:"foreignKey:DeckID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Deck) TableName() string {
	return "decks"
}

// CardCount 主牌数量合计
func (d *Deck) CardCount() int {
	total := 0
	for _, c := range d.Cards {
		total += c.Quantity
	}
	return total
}

// CardNames 按套牌顺序返回卡名
func (d *Deck) CardNames() []string {
	names := make([]string, 0, len(d.Cards))
	for _, c := range d.Cards {
		names = append(names, c.Name)
	}
	return names
}

// DeckCard 套牌中的一行
type DeckCard struct {
	ID       string `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DeckID   string `json:"deck_id" gorm:"type:uuid;index;not null"`
	Name     string `json:"name" gorm:"type:varchar(160);not null"`
	Quantity int    `json:"quantity" gorm:"not null;default:1"`
}

func (DeckCard) TableName() string {
	return "deck_cards"
}
