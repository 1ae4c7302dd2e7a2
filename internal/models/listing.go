package models

import (
	"fmt"

	"imjang/api/internal/utils"
)

// ListingType is the transaction type of a listing.
type ListingType string

const (
	ListingTypeSale    ListingType = "sale"
	ListingTypeJeonse  ListingType = "jeonse"
	ListingTypeMonthly ListingType = "monthly"
)

// Label returns the Korean display label of the listing type.
func (t ListingType) Label() string {
	switch t {
	case ListingTypeSale:
		return "매매"
	case ListingTypeJeonse:
		return "전세"
	case ListingTypeMonthly:
		return "월세"
	}
	return string(t)
}

// Listing is the read-only view of a property listing. Amounts are in KRW.
type Listing struct {
	ID             utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
	Title          string      `bson:"title,omitempty" json:"title,omitempty"`
	ListingType    ListingType `bson:"listing_type" json:"listing_type"`
	HouseType      string      `bson:"house_type,omitempty" json:"house_type,omitempty"`
	SalePrice      *int64      `bson:"sale_price,omitempty" json:"sale_price,omitempty"`
	JeonseDeposit  *int64      `bson:"jeonse_deposit,omitempty" json:"jeonse_deposit,omitempty"`
	MonthlyDeposit *int64      `bson:"monthly_deposit,omitempty" json:"monthly_deposit,omitempty"`
	MonthlyRent    *int64      `bson:"monthly_rent,omitempty" json:"monthly_rent,omitempty"`
	Address        string      `bson:"address" json:"address"`
	Description    *string     `bson:"description,omitempty" json:"description,omitempty"`
	Highlights     []string    `bson:"highlights,omitempty" json:"highlights,omitempty"`
	ImageURLs      []string    `bson:"image_urls,omitempty" json:"image_urls,omitempty"`
	Deleted        bool        `bson:"deleted" json:"-"` // Soft delete flag
}

// PriceText renders the governing price: "3.20억" for sale and jeonse, "1000/60" (만원) for monthly, "-" when unknown.
func (l *Listing) PriceText() string {
	return l.formatPrice("%.2f억")
}

// DisplayTitle returns the stored title, or "<type label> <short price>" when the listing has none.
func (l *Listing) DisplayTitle() string {
	if l.Title != "" {
		return l.Title
	}
	return fmt.Sprintf("%s %s", l.ListingType.Label(), l.formatPrice("%.1f억"))
}

// CoverImage returns the first listing image, if any.
func (l *Listing) CoverImage() *string {
	if len(l.ImageURLs) == 0 {
		return nil
	}
	img := l.ImageURLs[0]
	return &img
}

func (l *Listing) formatPrice(eokFormat string) string {
	switch l.ListingType {
	case ListingTypeSale:
		if nonZero(l.SalePrice) {
			return fmt.Sprintf(eokFormat, float64(*l.SalePrice)/1e8)
		}
	case ListingTypeJeonse:
		if nonZero(l.JeonseDeposit) {
			return fmt.Sprintf(eokFormat, float64(*l.JeonseDeposit)/1e8)
		}
	case ListingTypeMonthly:
		if nonZero(l.MonthlyRent) {
			deposit := "0"
			if nonZero(l.MonthlyDeposit) {
				deposit = fmt.Sprintf("%.0f", float64(*l.MonthlyDeposit)/1e4)
			}
			return fmt.Sprintf("%s/%.0f", deposit, float64(*l.MonthlyRent)/1e4)
		}
	}
	return "-"
}

func nonZero(v *int64) bool {
	return v != nil && *v != 0
}
