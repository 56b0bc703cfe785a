package rest

import (
	"net/url"
	"strconv"
)

// Route builders for the fixed Nuclos REST path scheme. Every dynamic path
// segment is escaped individually.

const (
	VersionRoute = "version"
	SessionRoute = "" // POST to log in, DELETE to log out
	BoListRoute  = "bos"
)

func BoMetaRoute(boMetaID string) string {
	return "boMetas/" + url.PathEscape(boMetaID)
}

func BoInstanceListRoute(boMetaID string) string {
	return "bos/" + url.PathEscape(boMetaID)
}

func BoInstanceRoute(boMetaID string, boID int64) string {
	return "bos/" + url.PathEscape(boMetaID) + "/" + strconv.FormatInt(boID, 10)
}

func DependencyListRoute(boMetaID string, boID int64, dependencyID string) string {
	return BoInstanceRoute(boMetaID, boID) + "/subBos/" + url.PathEscape(dependencyID)
}

func DependencyMetaRoute(boMetaID string, dependencyID string) string {
	return BoMetaRoute(boMetaID) + "/subBos/" + url.PathEscape(dependencyID)
}

func StateChangeRoute(boMetaID string, boID int64, stateID string) string {
	return "boStateChanges/" + url.PathEscape(boMetaID) + "/" + strconv.FormatInt(boID, 10) + "/" + url.PathEscape(stateID)
}

func DocumentRoute(boMetaID string, boID int64, boAttrID string) string {
	return "boDocuments/" + url.PathEscape(boMetaID) + "/" + strconv.FormatInt(boID, 10) + "/documents/" + url.PathEscape(boAttrID)
}
