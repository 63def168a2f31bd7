package entity

// Card 卡牌目录条目，用于校验推荐卡名与颜色身份
type Card struct {
	NormalizedName string `json:"normalized_name" yaml:"-" gorm:"type:varchar(160);primaryKey"`
	Name           string `json:"name" yaml:"name" gorm:"type:varchar(160);not null"`
	// ColorIdentity 例如 "WUB"，无色记为 "C"，为空表示未知
	ColorIdentity string `json:"color_identity" yaml:"color_identity" gorm:"type:varchar(8)"`
	TypeLine      string `json:"type_line,omitempty" yaml:"type_line" gorm:"type:varchar(160)"`
}

// ColorlessIdentity 无色卡牌的颜色身份
const ColorlessIdentity = "C"

func (Card) TableName() string {
	return "cards"
}

// IdentityKnown 目录中是否记录了颜色身份
func (c *Card) IdentityKnown() bool {
	return c.ColorIdentity != ""
}
