package app

import (
	"gorm.io/gorm"

	repos "github.com/yungbote/mailscope-backend/internal/data/repos/mail"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

type Repos struct {
	Email  repos.EmailRepo
	Point  repos.PointRepo
	Folder repos.FolderRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Email:  repos.NewEmailRepo(db, log),
		Point:  repos.NewPointRepo(db, log),
		Folder: repos.NewFolderRepo(db, log),
	}
}
