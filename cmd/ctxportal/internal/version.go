package internal

const Version = "0.3.0"
