package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	templatedomain "github.com/listinglens/listinglens/internal/template/domain"
	"gorm.io/gorm"
)

// EnsureCatalog seeds the purchasable credit packages and the style template
// catalog. Existing rows are left untouched, so operators can edit prices or
// prompts without the seed reverting them on restart.
func EnsureCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureCreditPackages(ctx, tx, node); err != nil {
			return err
		}
		return ensureStyleTemplates(ctx, tx, node)
	})
}

func ensureCreditPackages(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	defaults := []creditdomain.CreditPackage{
		{Name: "Starter", Code: "starter", Credits: 50, PriceUSDCents: 1900, SortOrder: 1},
		{Name: "Pro", Code: "pro", Credits: 200, PriceUSDCents: 5900, SortOrder: 2},
		{Name: "Agency", Code: "agency", Credits: 1000, PriceUSDCents: 24900, SortOrder: 3},
	}

	for _, pkg := range defaults {
		var existing creditdomain.CreditPackage
		err := tx.WithContext(ctx).Where("code = ?", pkg.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		pkg.ID = node.Generate()
		pkg.IsActive = true
		pkg.CreatedAt = now
		pkg.UpdatedAt = now
		if err := tx.WithContext(ctx).Create(&pkg).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensureStyleTemplates(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	defaults := []templatedomain.StyleTemplate{
		{
			Name:     "Modern Living Room",
			Slug:     "modern-living-room",
			RoomType: "living_room",
			Tool:     "virtual_staging",
			Prompt:   "Stage this empty living room with modern furniture, a neutral palette, a low-profile sofa and a large area rug.",
		},
		{
			Name:     "Scandinavian Bedroom",
			Slug:     "scandinavian-bedroom",
			RoomType: "bedroom",
			Tool:     "virtual_staging",
			Prompt:   "Stage this bedroom in a scandinavian style with light wood furniture, white linens and soft natural light.",
		},
		{
			Name:     "Farmhouse Dining",
			Slug:     "farmhouse-dining",
			RoomType: "dining_room",
			Tool:     "virtual_staging",
			Prompt:   "Stage this dining room with a rustic farmhouse table, upholstered chairs and warm pendant lighting.",
		},
		{
			Name:     "Clear Blue Sky",
			Slug:     "clear-blue-sky",
			RoomType: "exterior",
			Tool:     "sky_replacement",
			Prompt:   "Replace the sky with a clear blue sky and soft white clouds, keeping reflections and lighting consistent.",
		},
		{
			Name:     "Golden Hour",
			Slug:     "golden-hour",
			RoomType: "exterior",
			Tool:     "relight",
			Prompt:   "Relight this exterior photo as warm golden hour, with long soft shadows and a glowing facade.",
		},
		{
			Name:     "Tidy Interior",
			Slug:     "tidy-interior",
			RoomType: "any",
			Tool:     "declutter",
			Prompt:   "Remove clutter, personal items and loose cables while preserving the room layout and permanent fixtures.",
		},
	}

	for i, tmpl := range defaults {
		var existing templatedomain.StyleTemplate
		err := tx.WithContext(ctx).Where("slug = ?", tmpl.Slug).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		tmpl.ID = node.Generate()
		tmpl.IsActive = true
		tmpl.SortOrder = i + 1
		tmpl.CreatedAt = now
		tmpl.UpdatedAt = now
		if err := tx.WithContext(ctx).Create(&tmpl).Error; err != nil {
			return err
		}
	}
	return nil
}
