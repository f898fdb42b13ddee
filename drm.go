package epubemoji

import (
	"encoding/xml"
	"strings"
)

// encryptionFilePath is the standard path for the encryption descriptor.
const encryptionFilePath = "META-INF/encryption.xml"

// sinfFilePath is the path that indicates Apple FairPlay DRM.
const sinfFilePath = "META-INF/sinf.xml"

// Font obfuscation algorithm URIs – these do NOT constitute DRM.
var fontObfuscationAlgorithms = map[string]bool{
	"http://www.idpf.org/2008/embedding": true, // IDPF font obfuscation
	"http://ns.adobe.com/pdf/enc#RC":     true, // Adobe font obfuscation
}

type xmlEncryption struct {
	XMLName       xml.Name           `xml:"encryption"`
	EncryptedData []xmlEncryptedData `xml:"EncryptedData"`
}

type xmlEncryptedData struct {
	EncryptionMethod xmlEncryptionMethod `xml:"EncryptionMethod"`
	CipherReference  xmlCipherReference  `xml:"CipherData>CipherReference"`
}

type xmlEncryptionMethod struct {
	Algorithm string `xml:"Algorithm,attr"`
}

type xmlCipherReference struct {
	URI string `xml:"URI,attr"`
}

// checkDRM inspects META-INF/encryption.xml and META-INF/sinf.xml. Encrypted
// content documents cannot be rewritten, so any encryption other than font
// obfuscation yields ErrDRMProtected. On success it returns the archive
// paths of the obfuscated fonts, which are copied through untouched.
func checkDRM(a *archive) (obfuscated []string, err error) {
	if a.find(sinfFilePath) != nil {
		return nil, ErrDRMProtected
	}

	m := a.find(encryptionFilePath)
	if m == nil {
		return nil, nil
	}

	var enc xmlEncryption
	if err := xml.Unmarshal(stripBOM(m.Data), &enc); err != nil {
		// If we can't parse it, treat conservatively as potential DRM.
		return nil, ErrDRMProtected
	}

	for _, ed := range enc.EncryptedData {
		if !fontObfuscationAlgorithms[strings.TrimSpace(ed.EncryptionMethod.Algorithm)] {
			return nil, ErrDRMProtected
		}
		if uri := strings.TrimSpace(ed.CipherReference.URI); uri != "" {
			obfuscated = append(obfuscated, uri)
		}
	}
	return obfuscated, nil
}
