package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/common"
	"github.com/ternarybob/entitle/internal/models"
	"github.com/ternarybob/entitle/internal/remote"
)

// imageExtensions are accepted for avatar and banner files
var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}

// Customizer applies profile customization after a successful grant. Failures are logged only.
type Customizer struct {
	cfg    common.CustomizationConfig
	logger arbor.ILogger
}

// NewCustomizer creates a customizer with configured defaults
func NewCustomizer(cfg common.CustomizationConfig, logger arbor.ILogger) *Customizer {
	return &Customizer{cfg: cfg, logger: logger}
}

// Plan merges an order's customization with the configured defaults. Order values win.
func (c *Customizer) Plan(order *models.Customization) models.Customization {
	var plan models.Customization
	if order != nil {
		plan = *order
	}
	if plan.Nickname == "" && c.cfg.EnableNickname {
		plan.Nickname = c.cfg.DefaultNickname
	}
	if plan.Bio == "" && c.cfg.EnableBio {
		plan.Bio = c.cfg.DefaultBio
	}
	if plan.Avatar == "" && c.cfg.EnableAvatar {
		plan.Avatar = pickImage(c.cfg.AvatarDir)
	}
	if plan.Banner == "" && c.cfg.EnableBanner {
		plan.Banner = pickImage(c.cfg.BannerDir)
	}
	return plan
}

// Apply patches the member nickname and account profile. Returns how many patches succeeded.
func (c *Customizer) Apply(ctx context.Context, sess *remote.Session, resourceID string, order *models.Customization, logger arbor.ILogger) int {
	plan := c.Plan(order)
	if plan.IsEmpty() {
		return 0
	}
	applied := 0

	if plan.Nickname != "" {
		if err := sess.PatchMember(ctx, resourceID, plan.Nickname); err != nil {
			logger.Warn().Err(err).Msg("Nickname customization failed")
		} else {
			applied++
		}
	}

	patch := remote.ProfilePatch{Bio: plan.Bio, Pronouns: plan.Pronouns}
	if plan.Avatar != "" {
		uri, err := dataURI(plan.Avatar)
		if err != nil {
			logger.Warn().Err(err).Str("path", plan.Avatar).Msg("Avatar skipped")
		}
		patch.Avatar = uri
	}
	if plan.Banner != "" {
		uri, err := dataURI(plan.Banner)
		if err != nil {
			logger.Warn().Err(err).Str("path", plan.Banner).Msg("Banner skipped")
		}
		patch.Banner = uri
	}

	if !patch.IsEmpty() {
		if err := sess.PatchProfile(ctx, patch); err != nil {
			logger.Warn().Err(err).Msg("Profile customization failed")
		} else {
			applied++
		}
	}
	return applied
}

// pickImage returns a random image file from dir, or "" when none
func pickImage(dir string) string {
	if dir == "" {
		return ""
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var images []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		images = append(images, filepath.Join(dir, e.Name()))
	}
	if len(images) == 0 {
		return ""
	}
	return images[rand.IntN(len(images))]
}

// dataURI encodes a local image as data:<mime>;base64,<payload>
func dataURI(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !imageExtensions[ext] {
		return "", fmt.Errorf("unsupported image type %q", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = "image/" + strings.TrimPrefix(ext, ".")
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
