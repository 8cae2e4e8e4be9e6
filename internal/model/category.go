package model

import "time"

// Category is a node of a company's question tagging tree. The tree is stored
// flat: ParentID points at another category of the same company.
type Category struct {
	ID                     int       `json:"id"`
	CompanyID              int       `json:"company_id"`
	Name                   string    `json:"name"`
	ParentID               *int      `json:"parent_id,omitempty"`
	AllowMultipleSelection bool      `json:"allow_multiple_selection"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// CategoryNode is a category with its children, used to render the tree.
type CategoryNode struct {
	Category
	Children []*CategoryNode `json:"children"`
}

// CreateCategoryRequest is the payload for creating a category.
type CreateCategoryRequest struct {
	Name                   string `json:"name" binding:"required,min=1,max=255"`
	ParentID               *int   `json:"parent_id" binding:"omitempty,min=1"`
	AllowMultipleSelection bool   `json:"allow_multiple_selection"`
}

// AssignCategoryRequest links a question to a category.
type AssignCategoryRequest struct {
	CategoryID int `json:"category_id" binding:"required,min=1"`
}
