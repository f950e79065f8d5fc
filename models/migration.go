package models

import (
	"log"

	"bitbucket.org/mmdatafocus/pos_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Batch{},
		&Order{}, &OrderItem{},
		&SalesTransaction{},
		&Refund{}, &RefundedItem{},
		&Stock{},
		&SyncRun{}, &SyncRecordError{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
