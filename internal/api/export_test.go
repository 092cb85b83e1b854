package api

var ToHTTP = toHTTP
