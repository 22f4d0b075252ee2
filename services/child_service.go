package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/example/tiffinbox/models"
	"github.com/example/tiffinbox/utils"
)

// ChildService owns child profiles and their QR tokens.
type ChildService struct {
	db *gorm.DB
}

func NewChildService(db *gorm.DB) *ChildService {
	return &ChildService{db: db}
}

// ChildInput carries the parent-supplied profile fields.
type ChildInput struct {
	Name             string   `json:"name"`
	Age              int      `json:"age"`
	Grade            string   `json:"grade"`
	Allergies        []string `json:"allergies"`
	FoodPreference   string   `json:"food_preference"`
	DeliveryLocation string   `json:"delivery_location"`
}

func validateChildInput(in ChildInput) error {
	var problems []string
	if in.Name == "" {
		problems = append(problems, "name is required")
	}
	if in.Age < 3 || in.Age > 18 {
		problems = append(problems, "age must be between 3 and 18")
	}
	if in.Grade == "" {
		problems = append(problems, "grade is required")
	}
	if in.DeliveryLocation == "" {
		problems = append(problems, "delivery location is required")
	}
	switch in.FoodPreference {
	case "", models.FoodPreferenceVeg, models.FoodPreferenceNonVeg, models.FoodPreferenceVegOnly:
	default:
		problems = append(problems, "food preference must be veg, non-veg or veg-only")
	}
	if len(problems) > 0 {
		return utils.NewValidationError("Invalid child profile", problems...)
	}
	return nil
}

func marshalAllergies(allergies []string) datatypes.JSON {
	if allergies == nil {
		allergies = []string{}
	}
	raw, _ := json.Marshal(allergies)
	return datatypes.JSON(raw)
}

// Create registers a child under a parent. The QR token is generated here,
// exactly once, before the row is persisted.
func (s *ChildService) Create(parentID uint, in ChildInput) (*models.Child, error) {
	if err := validateChildInput(in); err != nil {
		return nil, err
	}

	pref := in.FoodPreference
	if pref == "" {
		pref = models.FoodPreferenceVeg
	}

	child := models.Child{
		ParentID:         parentID,
		Name:             in.Name,
		Age:              in.Age,
		Grade:            in.Grade,
		Allergies:        marshalAllergies(in.Allergies),
		FoodPreference:   pref,
		DeliveryLocation: in.DeliveryLocation,
		QRCodeData:       utils.NewChildQRToken(),
		IsActive:         true,
	}

	if err := s.db.Create(&child).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}

	utils.InfoLogger.Printf("Child %d registered for parent %d", child.ID, parentID)
	return &child, nil
}

// Update applies partial profile changes. The QR token is immutable.
func (s *ChildService) Update(childID, parentID uint, in ChildInput) (*models.Child, error) {
	child, err := s.Get(childID, parentID)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		child.Name = in.Name
	}
	if in.Age != 0 {
		if in.Age < 3 || in.Age > 18 {
			return nil, utils.NewValidationError("age must be between 3 and 18")
		}
		child.Age = in.Age
	}
	if in.Grade != "" {
		child.Grade = in.Grade
	}
	if in.Allergies != nil {
		child.Allergies = marshalAllergies(in.Allergies)
	}
	if in.FoodPreference != "" {
		switch in.FoodPreference {
		case models.FoodPreferenceVeg, models.FoodPreferenceNonVeg, models.FoodPreferenceVegOnly:
			child.FoodPreference = in.FoodPreference
		default:
			return nil, utils.NewValidationError("food preference must be veg, non-veg or veg-only")
		}
	}
	if in.DeliveryLocation != "" {
		child.DeliveryLocation = in.DeliveryLocation
	}

	if err := s.db.Save(child).Error; err != nil {
		return nil, utils.NewInternalError(err)
	}
	return child, nil
}

// SoftDelete deactivates a child. Rejected while any subscription still
// claims the child (active or paused), since deliveries would keep flowing
// from a resumed subscription.
func (s *ChildService) SoftDelete(childID, parentID uint) error {
	child, err := s.Get(childID, parentID)
	if err != nil {
		return err
	}

	var claims int64
	err = s.db.Model(&models.Subscription{}).
		Where("active_child_id = ?", childID).
		Count(&claims).Error
	if err != nil {
		return utils.NewInternalError(err)
	}
	if claims > 0 {
		return utils.NewConflictError("Cannot delete child with active subscriptions. Please cancel subscriptions first.")
	}

	child.IsActive = false
	if err := s.db.Save(child).Error; err != nil {
		return utils.NewInternalError(err)
	}

	utils.InfoLogger.Printf("Child %d deactivated", childID)
	return nil
}

// Get returns one child owned by the parent, active or not.
func (s *ChildService) Get(childID, parentID uint) (*models.Child, error) {
	var child models.Child
	err := s.db.Where("id = ? AND parent_id = ?", childID, parentID).First(&child).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Child not found")
		}
		return nil, utils.NewInternalError(err)
	}
	return &child, nil
}

// List returns a parent's active children, newest first.
func (s *ChildService) List(parentID uint) ([]models.Child, error) {
	var children []models.Child
	err := s.db.
		Where("parent_id = ? AND is_active = ?", parentID, true).
		Order("created_at DESC").
		Find(&children).Error
	if err != nil {
		return nil, utils.NewInternalError(err)
	}
	return children, nil
}

// VerifyToken resolves a scanned QR token to its child. Distinguishes an
// unknown token (not found) from a deactivated profile (conflict) so the
// scanning staff see the right message.
func (s *ChildService) VerifyToken(token string) (*models.Child, error) {
	if token == "" {
		return nil, utils.NewValidationError("QR code data is required")
	}

	var child models.Child
	err := s.db.Where("qr_code_data = ?", token).First(&child).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("Invalid QR code")
		}
		return nil, utils.NewInternalError(err)
	}
	if !child.IsActive {
		return nil, utils.NewConflictError(fmt.Sprintf("Child profile %s is deactivated", child.Name))
	}
	return &child, nil
}
