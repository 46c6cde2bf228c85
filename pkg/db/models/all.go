package models

// All lists every persisted model in dependency order for AutoMigrate.
func All() []any {
	return []any{
		&Setting{},
		&Category{},
		&Color{},
		&Size{},
		&Product{},
		&ProductVariant{},
		&User{},
		&Cart{},
		&CartItem{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&Donation{},
		&WebhookEvent{},
		&Notification{},
	}
}
