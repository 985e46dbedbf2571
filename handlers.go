package main

import (
	"database/sql"

	"eqms/internal/capa"
	"eqms/internal/handlers/admin"
	"eqms/internal/handlers/audits"
	"eqms/internal/handlers/common"
	"eqms/internal/handlers/design"
	"eqms/internal/handlers/documents"
	"eqms/internal/handlers/quality"
	"eqms/internal/handlers/suppliers"
	"eqms/internal/handlers/training"
	"eqms/internal/workflow"
)

// capaPolicy is set from config at startup, before any handler runs.
var capaPolicy capa.TransitionPolicy

var (
	documentsHandler *documents.Handler
	qualityHandler   *quality.Handler
	auditsHandler    *audits.Handler
	trainingHandler  *training.Handler
	suppliersHandler *suppliers.Handler
	designHandler    *design.Handler
	adminHandler     *admin.Handler
	commonHandler    *common.Handler
)

// newWorkflowEngine builds the document approval engine wired to the
// live database: final approval flips the owning document inside the
// same transaction, and steps are assigned to the active user holding
// the rule's position title.
func newWorkflowEngine() *workflow.Engine {
	e := workflow.NewEngine(db, nextID)
	e.OnDocumentApproved = func(tx *sql.Tx, documentID, approvedBy, approvedAt string) error {
		_, err := tx.Exec(`UPDATE documents SET status='approved', approved_by=?, approved_at=?, updated_at=?
			WHERE id=?`, approvedBy, approvedAt, approvedAt, documentID)
		return err
	}
	e.ResolveApprover = func(positionTitle string) (string, bool) {
		var username string
		err := db.QueryRow("SELECT username FROM users WHERE position=? AND active=1 ORDER BY id LIMIT 1",
			positionTitle).Scan(&username)
		return username, err == nil
	}
	return e
}

func getDocumentsHandler() *documents.Handler {
	if documentsHandler == nil || documentsHandler.DB != db {
		documentsHandler = &documents.Handler{
			DB: db, Hub: wsHub, NextIDFunc: nextID,
			Engine: newWorkflowEngine(),
		}
	}
	return documentsHandler
}

func getQualityHandler() *quality.Handler {
	if qualityHandler == nil || qualityHandler.DB != db {
		qualityHandler = &quality.Handler{
			DB: db, Hub: wsHub, NextIDFunc: nextID,
			Engine: capa.NewEngine(db, capaPolicy),
		}
	}
	return qualityHandler
}

func getAuditsHandler() *audits.Handler {
	if auditsHandler == nil || auditsHandler.DB != db {
		auditsHandler = &audits.Handler{DB: db, Hub: wsHub, NextIDFunc: nextID}
	}
	return auditsHandler
}

func getTrainingHandler() *training.Handler {
	if trainingHandler == nil || trainingHandler.DB != db {
		trainingHandler = &training.Handler{DB: db, Hub: wsHub, NextIDFunc: nextID}
	}
	return trainingHandler
}

func getSuppliersHandler() *suppliers.Handler {
	if suppliersHandler == nil || suppliersHandler.DB != db {
		suppliersHandler = &suppliers.Handler{DB: db, Hub: wsHub, NextIDFunc: nextID}
	}
	return suppliersHandler
}

func getDesignHandler() *design.Handler {
	if designHandler == nil || designHandler.DB != db {
		designHandler = &design.Handler{DB: db, Hub: wsHub, NextIDFunc: nextID}
	}
	return designHandler
}

func getAdminHandler() *admin.Handler {
	if adminHandler == nil || adminHandler.DB != db {
		adminHandler = &admin.Handler{DB: db, Hub: wsHub}
	}
	return adminHandler
}

func getCommonHandler() *common.Handler {
	if commonHandler == nil || commonHandler.DB != db {
		commonHandler = &common.Handler{DB: db, Hub: wsHub}
	}
	return commonHandler
}
