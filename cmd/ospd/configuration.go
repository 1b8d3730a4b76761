// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/openscreen-go/ospcast/pkg/castneg"
)

// tomlConfig follows a struct-of-structs pattern: one top-level struct per
// subsystem, decoded in a single pass.
type tomlConfig struct {
	Logging   logConf
	Store     storeConf
	Publisher publisherConf
	Receiver  receiverConf
	Debug     debugConf
}

type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

type storeConf struct {
	Dir string
}

type publisherConf struct {
	Hostname     string `toml:"hostname"`
	InstanceName string `toml:"instance-name"`
	Port         uint16 `toml:"port"`
	Interfaces   []int  `toml:"interfaces"`
	TXT          map[string]string
}

type codecLimitsConf struct {
	Channels   int `toml:"channels"`
	MinBitRate int `toml:"min-bit-rate"`
	MaxBitRate int `toml:"max-bit-rate"`
}

type receiverConf struct {
	PreferredAudioCodecs []string `toml:"preferred-audio-codecs"`
	PreferredVideoCodecs []string `toml:"preferred-video-codecs"`
	Limits               map[string]codecLimitsConf `toml:"limits"`
}

type debugConf struct {
	Listen string
}

// parseConfig decodes filename into a tomlConfig.
func parseConfig(filename string) (tomlConfig, error) {
	var conf tomlConfig
	if _, err := toml.DecodeFile(filename, &conf); err != nil {
		return tomlConfig{}, fmt.Errorf("parsing config %q: %w", filename, err)
	}
	if conf.Publisher.InstanceName == "" {
		return tomlConfig{}, fmt.Errorf("publisher.instance-name is empty")
	}
	if conf.Store.Dir == "" {
		return tomlConfig{}, fmt.Errorf("store.dir is empty")
	}
	return conf, nil
}

// castPreferences converts the receiver TOML block into castneg.Preferences.
func castPreferences(conf receiverConf) castneg.Preferences {
	prefs := castneg.Preferences{
		AudioCodecs: conf.PreferredAudioCodecs,
		VideoCodecs: conf.PreferredVideoCodecs,
		AudioLimits: make(map[string]castneg.Constraints),
		VideoLimits: make(map[string]castneg.Constraints),
	}
	for codec, lim := range conf.Limits {
		c := castneg.Constraints{Channels: lim.Channels, MinBitRate: lim.MinBitRate, MaxBitRate: lim.MaxBitRate}
		prefs.AudioLimits[codec] = c
		prefs.VideoLimits[codec] = c
	}
	return prefs
}
