package op

// Form is a DWARF attribute encoding form, DWARF v4 section 7.5.4.
// Operand forms determine how many bytes an expression operand occupies.
type Form uint8

const (
	FormAddr     Form = 0x01
	FormBlock2   Form = 0x03
	FormBlock4   Form = 0x04
	FormData2    Form = 0x05
	FormData4    Form = 0x06
	FormData8    Form = 0x07
	FormString   Form = 0x08
	FormBlock    Form = 0x09
	FormBlock1   Form = 0x0a
	FormData1    Form = 0x0b
	FormFlag     Form = 0x0c
	FormSdata    Form = 0x0d
	FormStrp     Form = 0x0e
	FormUdata    Form = 0x0f
	FormRefAddr  Form = 0x10
	FormRef1     Form = 0x11
	FormRef2     Form = 0x12
	FormRef4     Form = 0x13
	FormRef8     Form = 0x14
	FormRefUdata Form = 0x15
	FormIndirect Form = 0x16
)

// Width of the platform's unsigned integer type, used as the nominal
// size of variable length forms.
const unsignedSize = 8

// EncodedSize returns the number of bytes an operand of form f occupies
// inside an expression, for instruction offset bookkeeping. Calling it
// with a form that never appears as an expression operand is a bug in
// the format specification.
func (f Form) EncodedSize(ptrSize int) int {
	switch f {
	case FormAddr, FormStrp, FormRefAddr:
		return ptrSize
	case FormData1, FormBlock1, FormRef1, FormFlag:
		return 1
	case FormData2, FormBlock2, FormRef2:
		return 2
	case FormData4, FormBlock4, FormRef4:
		return 4
	case FormData8, FormRef8:
		return 8
	case FormString, FormBlock, FormSdata, FormUdata, FormRefUdata, FormIndirect:
		return unsignedSize
	default:
		panic("no encoded size for form")
	}
}
