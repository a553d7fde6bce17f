package store

import (
	"time"

	"gorm.io/datatypes"

	"github.com/zora-market/marketplace-core/internal/model"
)

// GORM models used for persistence.
type VendorModel struct {
	ID                  string `gorm:"primaryKey"`
	ShopName            string `gorm:"not null"`
	Slug                string `gorm:"uniqueIndex;not null"`
	LogoURL             string
	Rating              float64 `gorm:"not null;default:0"`
	ReviewCount         int     `gorm:"not null;default:0"`
	IsFeatured          bool    `gorm:"not null;default:false"`
	IsVerified          bool    `gorm:"not null;default:false"`
	DeliveryTimeMin     int
	DeliveryTimeMax     int
	CulturalSpecialties datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CreatedAt           time.Time                   `gorm:"not null"`
}

func (VendorModel) TableName() string { return "vendors" }

type ProductModel struct {
	ID             string `gorm:"primaryKey"`
	VendorID       string `gorm:"not null;index"`
	Name           string `gorm:"not null"`
	Price          float64
	Rating         float64 `gorm:"not null;default:0"`
	ReviewCount    int     `gorm:"not null;default:0"`
	IsFeatured     bool    `gorm:"not null;default:false"`
	IsActive       bool    `gorm:"not null;default:true;index"`
	StockQuantity  int     `gorm:"not null;default:0"`
	CulturalRegion *string
	Certifications datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CreatedAt      time.Time                   `gorm:"not null"`
}

func (ProductModel) TableName() string { return "products" }

type ConversationModel struct {
	ID                string  `gorm:"primaryKey"`
	UserID            string  `gorm:"not null;index;uniqueIndex:idx_conversation_user_vendor;uniqueIndex:idx_conversation_user_order"`
	VendorID          *string `gorm:"uniqueIndex:idx_conversation_user_vendor"`
	OrderID           *string `gorm:"uniqueIndex:idx_conversation_user_order"`
	ConversationType  *string
	LastMessageAt     time.Time `gorm:"not null;index"`
	LastMessageText   *string
	UnreadCountUser   int       `gorm:"not null;default:0"`
	UnreadCountVendor int       `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (ConversationModel) TableName() string { return "conversations" }

type MessageModel struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"not null;index"`
	SenderID       string `gorm:"not null"`
	SenderType     string `gorm:"not null"`
	SenderName     string
	Text           string    `gorm:"type:text;not null"`
	LocalID        string    `gorm:"index"`
	CreatedAt      time.Time `gorm:"not null;index"`
	ReadAt         *time.Time
}

func (MessageModel) TableName() string { return "messages" }

func vendorToModel(v model.Vendor) VendorModel {
	return VendorModel{
		ID:                  v.ID,
		ShopName:            v.ShopName,
		Slug:                v.Slug,
		LogoURL:             v.LogoURL,
		Rating:              v.Rating,
		ReviewCount:         v.ReviewCount,
		IsFeatured:          v.IsFeatured,
		IsVerified:          v.IsVerified,
		DeliveryTimeMin:     v.DeliveryTimeMin,
		DeliveryTimeMax:     v.DeliveryTimeMax,
		CulturalSpecialties: datatypes.NewJSONSlice(v.CulturalSpecialties),
		CreatedAt:           v.CreatedAt,
	}
}

func vendorFromModel(m VendorModel) model.Vendor {
	return model.Vendor{
		ID:                  m.ID,
		ShopName:            m.ShopName,
		Slug:                m.Slug,
		LogoURL:             m.LogoURL,
		Rating:              m.Rating,
		ReviewCount:         m.ReviewCount,
		IsFeatured:          m.IsFeatured,
		IsVerified:          m.IsVerified,
		DeliveryTimeMin:     m.DeliveryTimeMin,
		DeliveryTimeMax:     m.DeliveryTimeMax,
		CulturalSpecialties: []string(m.CulturalSpecialties),
		CreatedAt:           m.CreatedAt,
	}
}

func productToModel(p model.Product) ProductModel {
	return ProductModel{
		ID:             p.ID,
		VendorID:       p.VendorID,
		Name:           p.Name,
		Price:          p.Price,
		Rating:         p.Rating,
		ReviewCount:    p.ReviewCount,
		IsFeatured:     p.IsFeatured,
		IsActive:       p.IsActive,
		StockQuantity:  p.StockQuantity,
		CulturalRegion: p.CulturalRegion,
		Certifications: datatypes.NewJSONSlice(p.Certifications),
		CreatedAt:      p.CreatedAt,
	}
}

func productFromModel(m ProductModel) model.Product {
	return model.Product{
		ID:             m.ID,
		VendorID:       m.VendorID,
		Name:           m.Name,
		Price:          m.Price,
		Rating:         m.Rating,
		ReviewCount:    m.ReviewCount,
		IsFeatured:     m.IsFeatured,
		IsActive:       m.IsActive,
		StockQuantity:  m.StockQuantity,
		CulturalRegion: m.CulturalRegion,
		Certifications: []string(m.Certifications),
		CreatedAt:      m.CreatedAt,
	}
}

func conversationFromModel(m ConversationModel) model.Conversation {
	conv := model.Conversation{
		ID:                m.ID,
		UserID:            m.UserID,
		VendorID:          m.VendorID,
		OrderID:           m.OrderID,
		ConversationType:  model.ConversationTypeVendor,
		LastMessageAt:     m.LastMessageAt,
		LastMessageText:   m.LastMessageText,
		UnreadCountUser:   m.UnreadCountUser,
		UnreadCountVendor: m.UnreadCountVendor,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	// Rows created before the type column existed are vendor conversations.
	if m.ConversationType != nil && *m.ConversationType != "" {
		conv.ConversationType = model.ConversationType(*m.ConversationType)
	}
	return conv
}

func messageToModel(msg model.Message) MessageModel {
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderType:     string(msg.SenderType),
		SenderName:     msg.SenderName,
		Text:           msg.Text,
		LocalID:        msg.LocalID,
		CreatedAt:      msg.CreatedAt,
		ReadAt:         msg.ReadAt,
	}
}

func messageFromModel(m MessageModel) model.Message {
	return model.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderType:     model.SenderType(m.SenderType),
		SenderName:     m.SenderName,
		Text:           m.Text,
		LocalID:        m.LocalID,
		CreatedAt:      m.CreatedAt,
		ReadAt:         m.ReadAt,
		Status:         model.MessageSent,
	}
}
