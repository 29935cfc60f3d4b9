package main

import "github.com/4xmen/qased/pkg/i18n"

var __ = i18n.Translate
