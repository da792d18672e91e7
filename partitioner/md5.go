package partitioner

import (
	"crypto/md5"
	"crypto/rand"
)

// MD5Partitioner is the default partitioner: a key's token is its MD5
// digest, taken as a 128-bit big-endian integer.
type MD5Partitioner struct{}

// NewMD5Partitioner returns the default partitioner.
func NewMD5Partitioner() *MD5Partitioner {
	return &MD5Partitioner{}
}

var maxMD5Token = Token([]byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
})

func (p *MD5Partitioner) MaxToken() Token {
	return maxMD5Token
}

func (p *MD5Partitioner) TokenOf(key string) Token {
	sum := md5.Sum([]byte(key))
	tok := make(Token, len(sum))
	copy(tok, sum[:])
	return tok
}

func (p *MD5Partitioner) RandomToken() Token {
	tok := make(Token, 16)
	if _, err := rand.Read(tok); err != nil {
		panic(err)
	}
	return tok
}
