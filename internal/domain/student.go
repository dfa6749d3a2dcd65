package domain

type Student struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	LastName  string `gorm:"size:128;not null" json:"last_name"`
	FirstName string `gorm:"size:128;not null" json:"first_name"`
	Faculty   string `gorm:"size:128;index;not null" json:"faculty"`
	Course    string `gorm:"size:128;index;not null" json:"course"`
	Score     int    `gorm:"not null" json:"score"`
}
