package store

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/darc-project/darc/cmn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func jsonMarshalHistory(rec HistoryRecord) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, cmn.NewError(cmn.KindDatabaseOpFailed, "marshal history record", err)
	}
	return b, nil
}

func jsonMarshalSnapshot(snap SeleniumSnapshot) ([]byte, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, cmn.NewError(cmn.KindDatabaseOpFailed, "marshal selenium snapshot", err)
	}
	return b, nil
}

func jsonMarshalHost(rec HostnameRecord) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, cmn.NewError(cmn.KindDatabaseOpFailed, "marshal hostname record", err)
	}
	return b, nil
}

func jsonMarshalURL(rec URLRecord) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, cmn.NewError(cmn.KindDatabaseOpFailed, "marshal url record", err)
	}
	return b, nil
}
