package ds

import (
	"fmt"
	"time"
)

// Описание приложения. Информация о сборке, которую бинарники
// выводят по флагу -version и пишут в лог при старте
type AppInfo struct {
	appName     string
	version     string
	buildTime   string
	buildOS     string
	buildCommit string
	startTime   time.Time
}

// Конструктор для AppInfo
func NewAppInfo(appName string) *AppInfo {
	return &AppInfo{
		appName:   appName,
		startTime: time.Now(),
	}
}

// Опции для конструктора, используются для модификации полей структуры
func (i *AppInfo) WithVersion(version string) *AppInfo {
	i.version = version
	return i
}

func (i *AppInfo) WithBuildTime(buildTime string) *AppInfo {
	i.buildTime = buildTime
	return i
}

func (i *AppInfo) WithBuildOS(buildOS string) *AppInfo {
	i.buildOS = buildOS
	return i
}

func (i *AppInfo) WithBuildCommit(commit string) *AppInfo {
	i.buildCommit = commit
	return i
}

func (i *AppInfo) Name() string { return i.appName }

// Время запуска процесса
func (i *AppInfo) Uptime() time.Duration { return time.Since(i.startTime) }

// Поля для структурного лога
func (i *AppInfo) Fields() map[string]interface{} {
	return map[string]interface{}{
		"app":        i.appName,
		"version":    i.version,
		"commit":     i.buildCommit,
		"build_time": i.buildTime,
		"build_os":   i.buildOS,
	}
}

// Строковое представление версии
func (i *AppInfo) String() string {
	version := i.version
	if version == "" {
		version = "dev"
	}

	return fmt.Sprintf("%s@%s (Commit: %s)", i.appName, version, i.buildCommit)
}
