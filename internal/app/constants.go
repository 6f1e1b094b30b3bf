package app

const (
	Name            = "epics-tools"
	ConfigFilename  = "config.json"
	HistoryFilename = "history.db"
	LogFilename     = "caget.log"
)
